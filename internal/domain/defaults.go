package domain

import "github.com/rotisserie/eris"

// Defaults is the single table of fallbacks for missing inputs. Both the
// client and the invoice scorers read from it.
var Defaults = struct {
	PctOnTime180 float64
	DSO180       float64
	Aging        float64
	DeudaTotal   float64
	DeudaVencida float64
	TendenciaPD  float64
	Devoluciones int
	MontoPagado  float64

	// Score assumed for an invoice whose client was not scored in the run.
	UnknownClientPD180 float64
	UnknownClientColor Color

	Config GlobalConfig

	VentanaDesde ClockTime
	VentanaHasta ClockTime
}{
	PctOnTime180: 0.5,
	DSO180:       45,
	Aging:        0,
	DeudaTotal:   0,
	DeudaVencida: 0,
	TendenciaPD:  0,
	Devoluciones: 0,
	MontoPagado:  0,

	UnknownClientPD180: 0.15,
	UnknownClientColor: ColorAmarillo,

	Config: GlobalConfig{
		InflacionAnual:  1.20,
		TasaLibreRiesgo: 0.05,
		LGD:             0.70,
		BetaPlazo:       0.10,
		GammaRiesgo:     0.50,
	},

	VentanaDesde: ClockTime{Hour: 9},
	VentanaHasta: ClockTime{Hour: 18},
}

// Or returns *p, or def when p is nil.
func Or[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func (c GlobalConfig) Validate() error {
	switch {
	case c.InflacionAnual <= -1:
		return eris.New("inflacion_anual must be > -1")
	case c.TasaLibreRiesgo <= -1:
		return eris.New("tasa_libre_riesgo must be > -1")
	case c.LGD < 0 || c.LGD > 1:
		return eris.New("lgd must be within [0,1]")
	case c.BetaPlazo < 0:
		return eris.New("beta_plazo must be >= 0")
	case c.GammaRiesgo < 0:
		return eris.New("gamma_riesgo must be >= 0")
	}
	return nil
}
