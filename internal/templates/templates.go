// Package templates renders dunning messages from a closed set of named
// placeholders. A placeholder never survives rendering: missing values fall
// back to the documented defaults below.
package templates

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"gopkg.in/yaml.v3"
)

// Fallback values for missing fields.
const (
	DefaultNombre   = "Cliente"
	DefaultAnticipo = "0"
	DefaultLinkBase = "https://pagos.empresa.com"
	// Unconfigured is rendered for a message type with no template.
	Unconfigured = "Mensaje no configurado"
)

const dateLayout = "2/1/2006"

var builtin = map[string]string{
	"pre_due_t7":           "Hola {nombre}, te recordamos que la factura {numero} por {monto} vence en 7 días. Podés pagarla desde nuestro portal.",
	"pre_due_t3":           "Hola {nombre}, ¿cómo estás? Te escribimos porque la factura {numero} por {monto} vence el {vencimiento}. Podés pagar desde {link_pago}. Si necesitás escrow o dividir en anticipo + contraentrega, avisanos. ¡Gracias!",
	"due_t0":               "Hola {nombre}. Hoy vence {numero} por {monto}. Para evitar recargos, podés abonarla acá: {link_pago}. Si preferís escrow, activamos en 1 clic.",
	"overdue_t5":           "Hola {nombre}. Vemos {numero} con 5 días de atraso. Podemos mantener precio sin recargo si confirmás pago/anticipo {anticipo}% hoy. ¿Te ayuda si lo coordinamos por acá?",
	"overdue_t10_escalate": "Hola {nombre}. {numero} registra 10 días de atraso. Según política, debemos pausar entregas hasta confirmar anticipo {anticipo}% o escrow. ¿Cómo preferís proceder hoy?",
	"promesa_confirmacion": "Perfecto, registramos tu promesa de pago por {monto} para {fecha}. Te recordamos 24h antes. Si necesitás modificar, respondé este mensaje.",
	"pago_recibido":        "Gracias {nombre}. Acreditamos {monto} de la factura {numero}. Si pagás la próxima dentro de 7 días, aplicamos 2% de pronto pago.",
}

var placeholders = []string{"nombre", "numero", "monto", "vencimiento", "anticipo", "link_pago", "fecha"}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Fields is the complete set of values a template can reference. An empty
// LinkPago renders as DefaultLinkBase/FacturaID and a zero Fecha as today.
type Fields struct {
	Nombre      string
	Numero      string
	Monto       *float64
	Vencimiento *time.Time
	Anticipo    *int
	LinkPago    string
	FacturaID   string
	Fecha       time.Time
}

// Set is an immutable collection of templates.
type Set struct {
	texts   map[string]string
	printer *message.Printer
	now     func() time.Time
}

// Default returns the built-in templates.
func Default() *Set {
	texts := make(map[string]string, len(builtin))
	for k, v := range builtin {
		texts[k] = v
	}
	return &Set{texts: texts, printer: message.NewPrinter(language.MustParse("es-AR")), now: time.Now}
}

type file struct {
	Templates map[string]string `yaml:"templates"`
}

// Load overlays the templates in a YAML file on top of the built-ins. An empty
// path returns Default. Unknown template names, unknown keys and unknown
// placeholders are errors.
func Load(path string) (*Set, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open templates file %s", path)
	}
	defer fh.Close()

	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	var doc file
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrapf(err, "parse templates file %s", path)
	}
	for name, text := range doc.Templates {
		if _, ok := builtin[name]; !ok {
			return nil, eris.Errorf("unknown template %q", name)
		}
		if err := Validate(text); err != nil {
			return nil, eris.Wrapf(err, "template %q", name)
		}
		s.texts[name] = text
	}
	return s, nil
}

// Validate rejects a template text referencing unknown placeholders.
func Validate(text string) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !knownPlaceholder(m[1]) {
			return eris.Errorf("unknown placeholder {%s}", m[1])
		}
	}
	return nil
}

func knownPlaceholder(p string) bool {
	for _, k := range placeholders {
		if k == p {
			return true
		}
	}
	return false
}

// Has reports whether name has a template.
func (s *Set) Has(name string) bool {
	_, ok := s.texts[name]
	return ok
}

// Names lists the configured template names.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.texts))
	for k := range s.texts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Render fills template name with f. A missing template renders Unconfigured.
func (s *Set) Render(name string, f Fields) string {
	text, ok := s.texts[name]
	if !ok {
		return Unconfigured
	}
	fecha := f.Fecha
	if fecha.IsZero() {
		fecha = s.now()
	}
	r := strings.NewReplacer(
		"{nombre}", orDefault(f.Nombre, DefaultNombre),
		"{numero}", f.Numero,
		"{monto}", s.FormatAmount(f.Monto),
		"{vencimiento}", formatDate(f.Vencimiento),
		"{anticipo}", formatAnticipo(f.Anticipo),
		"{link_pago}", linkOrDefault(f.LinkPago, f.FacturaID),
		"{fecha}", formatDate(&fecha),
	)
	return r.Replace(text)
}

func linkOrDefault(link, facturaID string) string {
	if strings.TrimSpace(link) != "" {
		return link
	}
	if facturaID == "" {
		return DefaultLinkBase
	}
	return DefaultLinkBase + "/" + facturaID
}

// FormatAmount renders a currency amount the es-AR way, e.g. "$100.000".
func (s *Set) FormatAmount(v *float64) string {
	amount := 0.0
	if v != nil {
		amount = *v
	}
	return "$" + s.printer.Sprint(number.Decimal(amount, number.MaxFractionDigits(2)))
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatAnticipo(a *int) string {
	if a == nil {
		return DefaultAnticipo
	}
	return strconv.Itoa(*a)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
