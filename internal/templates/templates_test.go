package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRenderSubstitutesEveryPlaceholder(t *testing.T) {
	s := Default()
	monto := 1500.0
	venc := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	ant := 40
	f := Fields{
		Nombre:      "Acme SA",
		Numero:      "A-0001",
		Monto:       &monto,
		Vencimiento: &venc,
		Anticipo:    &ant,
		LinkPago:    "https://pagos.empresa.com/f1",
		Fecha:       time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC),
	}
	for _, name := range s.Names() {
		out := s.Render(name, f)
		if placeholderRe.MatchString(out) {
			t.Errorf("%s: placeholder left in %q", name, out)
		}
	}

	out := s.Render("pre_due_t3", f)
	for _, want := range []string{"Acme SA", "A-0001", "3/11/2026", "https://pagos.empresa.com/f1"} {
		if !strings.Contains(out, want) {
			t.Errorf("pre_due_t3 missing %q: %s", want, out)
		}
	}
	if out := s.Render("overdue_t5", f); !strings.Contains(out, "anticipo 40%") {
		t.Errorf("overdue_t5 = %s", out)
	}
}

func TestRenderMissingFieldsUseDefaults(t *testing.T) {
	s := Default()
	out := s.Render("overdue_t10_escalate", Fields{})
	if !strings.Contains(out, "Hola Cliente.") {
		t.Errorf("nombre default not applied: %s", out)
	}
	if !strings.Contains(out, "anticipo 0%") {
		t.Errorf("anticipo default not applied: %s", out)
	}
	if strings.Contains(out, "{") {
		t.Errorf("literal placeholder in output: %s", out)
	}

	out = s.Render("pago_recibido", Fields{})
	if !strings.Contains(out, "$0") {
		t.Errorf("monto default not applied: %s", out)
	}
}

func TestRenderLinkAndDateDefaults(t *testing.T) {
	s := Default()
	s.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }

	out := s.Render("due_t0", Fields{FacturaID: "f-42"})
	if !strings.Contains(out, "acá: https://pagos.empresa.com/f-42.") {
		t.Errorf("link_pago default not applied: %s", out)
	}
	out = s.Render("due_t0", Fields{FacturaID: "f-42", LinkPago: "https://pay.test/x"})
	if !strings.Contains(out, "https://pay.test/x") {
		t.Errorf("explicit link ignored: %s", out)
	}

	out = s.Render("promesa_confirmacion", Fields{})
	if !strings.Contains(out, "para 18/10/2026.") {
		t.Errorf("fecha default not applied: %s", out)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if got := Default().Render("custom_step", Fields{}); got != Unconfigured {
		t.Errorf("got %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid override", body: "templates:\n  due_t0: \"Vence hoy {numero}, {nombre}.\"\n"},
		{name: "unknown template", body: "templates:\n  nope: \"x\"\n", wantErr: true},
		{name: "unknown placeholder", body: "templates:\n  due_t0: \"{cuit}\"\n", wantErr: true},
		{name: "unknown top-level key", body: "plantillas:\n  due_t0: \"x\"\n", wantErr: true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := write(filepath.Base(t.Name())+string(rune('a'+i))+".yaml", tt.body)
			s, err := Load(p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := s.Render("due_t0", Fields{Numero: "B-7"}); got != "Vence hoy B-7, Cliente." {
				t.Errorf("override not applied: %q", got)
			}
			if !s.Has("pre_due_t7") {
				t.Error("built-ins should survive an overlay")
			}
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Names()) != len(builtin) {
		t.Errorf("names = %v", s.Names())
	}
}
