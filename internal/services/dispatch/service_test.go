package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"cobranzas/internal/adapters/memory"
	"cobranzas/internal/adapters/ratelimit"
	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []ports.Message
	fail map[string]error // by destination
}

func (s *fakeSender) Send(ctx context.Context, msg ports.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.Destination]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func str(v string) *string { return &v }

// 10:00 in UTC
var now = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	store  *memory.Store
	sender *fakeSender
	d      *Dispatcher
}

func newFixture(t *testing.T, pb domain.Playbook) *fixture {
	t.Helper()
	st := memory.New()
	st.PutPlaybook(pb)
	snd := &fakeSender{fail: map[string]error{}}
	return &fixture{
		store:  st,
		sender: snd,
		d:      New(st, snd, ratelimit.NewMemory(), nil, Options{Location: time.UTC}, clock),
	}
}

var defaultPlaybook = domain.Playbook{ID: "pb1", Nombre: "Estandar", Activo: true,
	VentanaDesde: domain.ClockTime{Hour: 9}, VentanaHasta: domain.ClockTime{Hour: 18}}

// addJob seeds a client, an invoice and one pending job for them on pb1.
func (fx *fixture) addJob(t *testing.T, id string, prioridad float64, canal domain.Channel, email, tel *string) {
	t.Helper()
	fx.addJobFor(t, "pb1", id, prioridad, canal, email, tel)
}

func (fx *fixture) addJobFor(t *testing.T, pbID, id string, prioridad float64, canal domain.Channel, email, tel *string) {
	t.Helper()
	fx.store.PutClient(domain.Client{ID: "c-" + id, RazonSocial: "Cliente " + id, Email: email, Telefono: tel})
	fx.store.PutInvoice(domain.Invoice{
		ID: "f-" + id, ClienteID: "c-" + id, Numero: "N-" + id, Monto: 1500,
		FechaVencimiento: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Estado:           domain.InvoiceVencida,
		Recomendacion:    &domain.Recommendation{Modo: domain.ModeAnticipoContraentrega, Anticipo: 45},
	})
	ok, err := fx.store.EnqueueIfAbsent(context.Background(), domain.QueueEntry{
		ID: id, FacturaID: "f-" + id, ClienteID: "c-" + id, PlaybookID: &pbID,
		TipoMensaje: "overdue_t5", OffsetDias: 5, Canal: canal,
		FechaProgramada: now.Add(-time.Hour), Prioridad: prioridad, Estado: domain.QueuePendiente,
	})
	if err != nil || !ok {
		t.Fatalf("enqueue %s: ok=%v err=%v", id, ok, err)
	}
}

func (fx *fixture) entry(t *testing.T, id string) domain.QueueEntry {
	t.Helper()
	for _, e := range fx.store.Entries() {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("no entry %s", id)
	return domain.QueueEntry{}
}

func TestRunHighestPriorityFirst(t *testing.T) {
	fx := newFixture(t, defaultPlaybook)
	fx.addJob(t, "low", 500, domain.ChannelWhatsApp, nil, str("+111"))
	fx.addJob(t, "high", 1200, domain.ChannelWhatsApp, nil, str("+222"))

	sum, err := fx.d.Run(context.Background(), Request{Limit: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.MensajesEnviados != 1 || sum.TrabajosProcesados != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if fx.sender.sent[0].Destination != "+222" {
		t.Errorf("first send went to %s", fx.sender.sent[0].Destination)
	}
	if e := fx.entry(t, "high"); e.Estado != domain.QueueEnviado || e.FechaEnviado == nil || !e.FechaEnviado.Equal(now) {
		t.Errorf("high = %+v", e)
	}
	if e := fx.entry(t, "low"); e.Estado != domain.QueuePendiente {
		t.Errorf("low = %s", e.Estado)
	}

	if _, err := fx.d.Run(context.Background(), Request{Limit: 1}); err != nil {
		t.Fatal(err)
	}
	if len(fx.sender.sent) != 2 || fx.sender.sent[1].Destination != "+111" {
		t.Errorf("sent = %+v", fx.sender.sent)
	}
}

func TestRunRecordsInteraction(t *testing.T) {
	fx := newFixture(t, defaultPlaybook)
	fx.addJob(t, "j1", 100, domain.ChannelWhatsApp, nil, str("+5491100000000"))

	if _, err := fx.d.Run(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	in := fx.store.Interactions()
	if len(in) != 1 {
		t.Fatalf("interactions = %d", len(in))
	}
	got := in[0]
	if got.ClienteID != "c-j1" || got.FacturaID != "f-j1" || got.Plantilla != "overdue_t5" || got.Resultado != ResultSent {
		t.Errorf("interaction = %+v", got)
	}
	text := fx.sender.sent[0].Text
	if got.MensajeEnviado != text {
		t.Errorf("logged text differs from sent text")
	}
	for _, want := range []string{"Cliente j1", "N-j1", "anticipo 45%"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "{") {
		t.Errorf("placeholder left in %q", text)
	}
}

func TestRunSendFailureMarksFallido(t *testing.T) {
	fx := newFixture(t, defaultPlaybook)
	fx.addJob(t, "bad", 900, domain.ChannelEmail, str("caido@x.test"), nil)
	fx.addJob(t, "ok", 100, domain.ChannelEmail, str("ok@x.test"), nil)
	fx.sender.fail["caido@x.test"] = errors.New("smtp 550")

	sum, err := fx.d.Run(context.Background(), Request{Limit: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.MensajesEnviados != 1 || sum.Fallidos != 1 || sum.TrabajosProcesados != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	e := fx.entry(t, "bad")
	if e.Estado != domain.QueueFallido || e.Error == nil || !strings.Contains(*e.Error, "smtp 550") {
		t.Errorf("bad = %+v", e)
	}
	if n := len(fx.store.Interactions()); n != 1 {
		t.Errorf("interactions = %d, want only the successful one", n)
	}

	// fallido is terminal: no retry on the next run
	again, _ := fx.d.Run(context.Background(), Request{})
	if again.TrabajosProcesados != 0 {
		t.Errorf("retried %d jobs", again.TrabajosProcesados)
	}
}

func TestRunMissingDestination(t *testing.T) {
	fx := newFixture(t, defaultPlaybook)
	fx.addJob(t, "j1", 100, domain.ChannelWhatsApp, str("solo-mail@x.test"), nil)

	sum, err := fx.d.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Fallidos != 1 || len(fx.sender.sent) != 0 {
		t.Errorf("summary = %+v sent = %d", sum, len(fx.sender.sent))
	}
	if e := fx.entry(t, "j1"); e.Estado != domain.QueueFallido {
		t.Errorf("estado = %s", e.Estado)
	}
}

func TestRunOutsideContactWindowDefers(t *testing.T) {
	pb := defaultPlaybook
	pb.VentanaDesde, pb.VentanaHasta = domain.ClockTime{Hour: 14}, domain.ClockTime{Hour: 18}
	fx := newFixture(t, pb)
	fx.addJob(t, "j1", 100, domain.ChannelWhatsApp, nil, str("+1"))

	sum, err := fx.d.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Diferidos != 1 || sum.MensajesEnviados != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if e := fx.entry(t, "j1"); e.Estado != domain.QueuePendiente {
		t.Errorf("estado = %s", e.Estado)
	}
}

func TestRunDailyLimit(t *testing.T) {
	pb := defaultPlaybook
	pb.LimiteDiario = 2
	fx := newFixture(t, pb)
	for i := 0; i < 3; i++ {
		fx.addJob(t, fmt.Sprintf("j%d", i), float64(100-i), domain.ChannelWhatsApp, nil, str(fmt.Sprintf("+%d", i)))
	}

	sum, err := fx.d.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.MensajesEnviados != 2 || sum.Diferidos != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if e := fx.entry(t, "j2"); e.Estado != domain.QueuePendiente {
		t.Errorf("lowest priority job should wait for tomorrow, estado = %s", e.Estado)
	}
}

func TestRunLimits(t *testing.T) {
	fx := newFixture(t, defaultPlaybook)
	for i := 0; i < 12; i++ {
		fx.addJob(t, fmt.Sprintf("j%02d", i), float64(i), domain.ChannelWhatsApp, nil, str("+1"))
	}

	sum, err := fx.d.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.TrabajosProcesados != DefaultLimit {
		t.Errorf("processed %d, want default %d", sum.TrabajosProcesados, DefaultLimit)
	}

	_, err = fx.d.Run(context.Background(), Request{Limit: -3})
	if !eris.Is(err, ports.ErrInvalidRequest) {
		t.Errorf("negative limit err = %v", err)
	}
}

func TestRunBlockedPlaybookDoesNotStarveOthers(t *testing.T) {
	limited := defaultPlaybook
	limited.LimiteDiario = 1
	fx := newFixture(t, limited)
	other := defaultPlaybook
	other.ID = "pb2"
	fx.store.PutPlaybook(other)
	for i := 0; i < 5; i++ {
		fx.addJob(t, fmt.Sprintf("a%d", i), float64(1000-i), domain.ChannelWhatsApp, nil, str(fmt.Sprintf("+a%d", i)))
	}
	fx.addJobFor(t, "pb2", "b", 1, domain.ChannelWhatsApp, nil, str("+b"))

	sum, err := fx.d.Run(context.Background(), Request{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if sum.MensajesEnviados != 2 || sum.Diferidos != 2 || sum.Fallidos != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if e := fx.entry(t, "b"); e.Estado != domain.QueueEnviado {
		t.Errorf("b estado = %s, want enviado", e.Estado)
	}
	for i := 1; i < 5; i++ {
		if e := fx.entry(t, fmt.Sprintf("a%d", i)); e.Estado != domain.QueuePendiente {
			t.Errorf("a%d estado = %s", i, e.Estado)
		}
	}

	// quota spent: later runs defer pb1 without looping on it
	for i := 0; i < 3; i++ {
		sum, err = fx.d.Run(context.Background(), Request{Limit: 3})
		if err != nil {
			t.Fatal(err)
		}
		if sum.MensajesEnviados != 0 || sum.Diferidos != 3 {
			t.Errorf("run %d summary = %+v", i, sum)
		}
	}
}

func TestRunClosedWindowDoesNotStarveOthers(t *testing.T) {
	late := defaultPlaybook
	late.VentanaDesde, late.VentanaHasta = domain.ClockTime{Hour: 14}, domain.ClockTime{Hour: 18}
	fx := newFixture(t, late)
	other := defaultPlaybook
	other.ID = "pb2"
	fx.store.PutPlaybook(other)
	for i := 0; i < 4; i++ {
		fx.addJob(t, fmt.Sprintf("a%d", i), float64(1000-i), domain.ChannelWhatsApp, nil, str("+a"))
	}
	fx.addJobFor(t, "pb2", "b", 1, domain.ChannelWhatsApp, nil, str("+b"))

	sum, err := fx.d.Run(context.Background(), Request{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if sum.MensajesEnviados != 1 || len(fx.sender.sent) != 1 || fx.sender.sent[0].Destination != "+b" {
		t.Errorf("summary = %+v sent = %+v", sum, fx.sender.sent)
	}
}

func TestRunQuotaOnlyCountsDeliveredMessages(t *testing.T) {
	pb := defaultPlaybook
	pb.LimiteDiario = 1
	fx := newFixture(t, pb)
	fx.addJob(t, "sin-mail", 1000, domain.ChannelEmail, nil, str("+1"))
	fx.addJob(t, "caido", 800, domain.ChannelEmail, str("caido@x.test"), nil)
	fx.addJob(t, "ok", 500, domain.ChannelEmail, str("ok@x.test"), nil)
	fx.sender.fail["caido@x.test"] = errors.New("smtp 550")

	sum, err := fx.d.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.MensajesEnviados != 1 || sum.Fallidos != 2 || sum.Diferidos != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if e := fx.entry(t, "ok"); e.Estado != domain.QueueEnviado {
		t.Errorf("ok estado = %s", e.Estado)
	}
}

// failingJobs loses every MarkSent, as a dropped database connection would.
type failingJobs struct {
	*memory.Store
}

func (failingJobs) MarkSent(ctx context.Context, id string, in domain.Interaction, at time.Time) error {
	return errors.New("connection reset")
}

func TestRunStorageErrorReleasesRemainingJobs(t *testing.T) {
	fx := newFixture(t, defaultPlaybook)
	fx.addJob(t, "a", 2, domain.ChannelWhatsApp, nil, str("+1"))
	fx.addJob(t, "b", 1, domain.ChannelWhatsApp, nil, str("+2"))
	d := New(failingJobs{fx.store}, fx.sender, nil, nil, Options{Location: time.UTC}, clock)

	if _, err := d.Run(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	for _, id := range []string{"a", "b"} {
		if e := fx.entry(t, id); e.Estado != domain.QueuePendiente {
			t.Errorf("%s estado = %s, want pendiente", id, e.Estado)
		}
	}
}

func TestDestination(t *testing.T) {
	c := domain.Client{Email: str(" a@b.test "), Telefono: str("+54")}
	if got := Destination(c, domain.ChannelEmail); got != "a@b.test" {
		t.Errorf("email = %q", got)
	}
	if got := Destination(c, domain.ChannelWhatsApp); got != "+54" {
		t.Errorf("whatsapp = %q", got)
	}
	if got := Destination(domain.Client{}, domain.ChannelEmail); got != "" {
		t.Errorf("empty = %q", got)
	}
}
