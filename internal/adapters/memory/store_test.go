package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
)

var t0 = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.PutClient(domain.Client{ID: "c1"})
	for _, id := range []string{"f1", "f2", "f3"} {
		s.PutInvoice(domain.Invoice{ID: id, ClienteID: "c1", Estado: domain.InvoicePendiente})
	}
	return s
}

func enqueue(t *testing.T, s *Store, factura, tipo string, prio float64, at time.Time) string {
	t.Helper()
	id := factura + "/" + tipo
	ok, err := s.EnqueueIfAbsent(context.Background(), domain.QueueEntry{
		ID: id, FacturaID: factura, ClienteID: "c1", TipoMensaje: tipo, FechaProgramada: at, Prioridad: prio,
	})
	if err != nil || !ok {
		t.Fatalf("enqueue %s: %v %v", id, ok, err)
	}
	return id
}

func TestEnqueueIfAbsentIsUniquePerInvoiceStep(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := s.EnqueueIfAbsent(ctx, domain.QueueEntry{FacturaID: "f1", TipoMensaje: "due_t0"})
			created <- ok
		}()
	}
	wg.Wait()
	close(created)
	n := 0
	for ok := range created {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("created %d entries, want 1", n)
	}
	if ok, _ := s.EnqueueIfAbsent(ctx, domain.QueueEntry{FacturaID: "f1", TipoMensaje: "overdue_t5"}); !ok {
		t.Error("another step of the same invoice must be accepted")
	}
	if e := s.Entries()[0]; e.Estado != domain.QueuePendiente {
		t.Errorf("estado = %s", e.Estado)
	}
}

func TestClaimDueOrderAndExclusivity(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	low := enqueue(t, s, "f1", "a", 500, t0.Add(-2*time.Hour))
	high := enqueue(t, s, "f2", "a", 1200, t0.Add(-time.Hour))
	tie := enqueue(t, s, "f3", "a", 500, t0.Add(-3*time.Hour))
	enqueue(t, s, "f1", "future", 9999, t0.Add(time.Hour))

	jobs, err := s.ClaimDue(ctx, 10, t0, nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, j := range jobs {
		got = append(got, j.Entry.ID)
		if j.Entry.Estado != domain.QueueProcesando || j.Entry.Intentos != 1 {
			t.Errorf("%s: %s intentos=%d", j.Entry.ID, j.Entry.Estado, j.Entry.Intentos)
		}
	}
	want := []string{high, tie, low}
	if len(got) != len(want) {
		t.Fatalf("claimed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claimed %v, want %v", got, want)
		}
	}

	again, _ := s.ClaimDue(ctx, 10, t0, nil)
	if len(again) != 0 {
		t.Errorf("claimed jobs were handed out twice: %d", len(again))
	}
}

func TestClaimDueSkipsPlaybooks(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	for _, e := range []domain.QueueEntry{
		{ID: "blocked", FacturaID: "f1", TipoMensaje: "a", PlaybookID: str("pb1"), Prioridad: 900},
		{ID: "open", FacturaID: "f2", TipoMensaje: "a", PlaybookID: str("pb2"), Prioridad: 10},
		{ID: "none", FacturaID: "f3", TipoMensaje: "a", Prioridad: 1},
	} {
		e.ClienteID, e.FechaProgramada = "c1", t0
		if _, err := s.EnqueueIfAbsent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := s.ClaimDue(ctx, 10, t0, []string{"pb1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].Entry.ID != "open" || jobs[1].Entry.ID != "none" {
		t.Fatalf("claimed %+v", jobs)
	}
	for _, e := range s.Entries() {
		if e.ID == "blocked" && e.Estado != domain.QueuePendiente {
			t.Errorf("blocked = %s", e.Estado)
		}
	}
}

func str(v string) *string { return &v }

func TestMarkTransitions(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	a := enqueue(t, s, "f1", "a", 1, t0)
	b := enqueue(t, s, "f2", "a", 1, t0)

	if err := s.MarkSent(ctx, a, domain.Interaction{}, t0); err == nil {
		t.Error("MarkSent on an unclaimed job must fail")
	}
	if _, err := s.ClaimDue(ctx, 10, t0, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSent(ctx, a, domain.Interaction{FacturaID: "f1"}, t0); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, b, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, b, "again"); err == nil {
		t.Error("fallido is terminal")
	}
	if err := s.Release(ctx, "nope"); !eris.Is(err, ports.ErrNotFound) {
		t.Errorf("Release unknown = %v", err)
	}
	if n := len(s.Interactions()); n != 1 {
		t.Errorf("interactions = %d", n)
	}
}

func TestReleaseStale(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	old := enqueue(t, s, "f1", "a", 2, t0)
	if _, err := s.ClaimDue(ctx, 1, t0, nil); err != nil {
		t.Fatal(err)
	}
	fresh := enqueue(t, s, "f2", "a", 1, t0)
	if _, err := s.ClaimDue(ctx, 1, t0.Add(20*time.Minute), nil); err != nil {
		t.Fatal(err)
	}

	n, err := s.ReleaseStale(ctx, t0.Add(10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("released %d, err %v", n, err)
	}
	for _, e := range s.Entries() {
		switch e.ID {
		case old:
			if e.Estado != domain.QueuePendiente {
				t.Errorf("old = %s", e.Estado)
			}
		case fresh:
			if e.Estado != domain.QueueProcesando {
				t.Errorf("fresh = %s", e.Estado)
			}
		}
	}
}

func TestSaveScoresAllOrNothing(t *testing.T) {
	s := seeded(t)
	err := s.SaveScores(context.Background(),
		[]ports.ClientScoreUpdate{{ClientID: "c1", PD180: 0.1, Color: domain.ColorAmarillo}},
		[]ports.InvoiceScoreUpdate{{InvoiceID: "missing"}},
		domain.Event{TipoEvento: "recalculo"})
	if !eris.Is(err, ports.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if c, _ := s.Client("c1"); c.PD180 != nil {
		t.Error("client written despite failed batch")
	}
	if len(s.Events()) != 0 {
		t.Error("event written despite failed batch")
	}
}

func TestGetActivePlaybook(t *testing.T) {
	s := New()
	s.PutPlaybook(domain.Playbook{ID: "on", Activo: true})
	s.PutPlaybook(domain.Playbook{ID: "off"})
	p, err := s.GetActivePlaybook(context.Background(), "on")
	if err != nil {
		t.Fatal(err)
	}
	if p.VentanaDesde != domain.Defaults.VentanaDesde || p.VentanaHasta != domain.Defaults.VentanaHasta {
		t.Errorf("window = %v-%v", p.VentanaDesde, p.VentanaHasta)
	}
	if _, err := s.GetActivePlaybook(context.Background(), "off"); !eris.Is(err, ports.ErrNotFound) {
		t.Errorf("inactive err = %v", err)
	}
}
