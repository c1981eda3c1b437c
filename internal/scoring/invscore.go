package scoring

import (
	"math"
	"time"

	"cobranzas/internal/domain"
)

const (
	overdueStepDays   = 30.0
	overdueUplift     = 0.3
	returnsPenalty    = 0.05
	pd90Factor        = 0.7
	termUpliftCap     = 0.50
	stopPD30Threshold = 0.40
	anticipoThreshold = 0.30
	daysPerYear       = 365.0
)

// InvoiceScore is everything the risk engine writes back onto an invoice.
type InvoiceScore struct {
	PD30          float64
	PD90          float64
	InvScore      int
	DiasPlazo     int
	DiasVenc      int
	MarkupPlazo   float64
	CostoPlazo    float64
	Recomendacion domain.Recommendation
}

// ScoreInvoice computes the short-term default probability, the term markup
// and the policy recommendation of one invoice. now fixes "today".
func ScoreInvoice(inv domain.Invoice, client ClientScore, cfg domain.GlobalConfig, now time.Time) InvoiceScore {
	diasPlazo := DaysBetween(inv.FechaEmision, inv.FechaVencimiento)
	diasVenc := DaysBetween(now, inv.FechaVencimiento)

	kd := CombinedDailyRate(cfg.InflacionAnual, cfg.TasaLibreRiesgo)
	markup := TermMarkup(kd, diasPlazo)

	pd30 := client.PD180 * (1 + math.Max(0, -float64(diasVenc)/overdueStepDays)*overdueUplift)
	if domain.Or(inv.Devoluciones, domain.Defaults.Devoluciones) > 0 {
		pd30 += returnsPenalty
	}
	pd30 = round4(clamp01(pd30))

	out := InvoiceScore{
		PD30:        pd30,
		PD90:        round4(pd90Factor * pd30),
		InvScore:    int(math.Round(100 * pd30)),
		DiasPlazo:   diasPlazo,
		DiasVenc:    diasVenc,
		MarkupPlazo: round4(markup),
		CostoPlazo:  round2(inv.Monto * markup),
	}
	out.Recomendacion = Recommend(inv, client.Color, pd30, diasPlazo, cfg)
	return out
}

// Recommend derives the advance-payment policy for an invoice.
func Recommend(inv domain.Invoice, color domain.Color, pd30 float64, diasPlazo int, cfg domain.GlobalConfig) domain.Recommendation {
	upliftPlazo := clamp01(math.Min(termUpliftCap, cfg.BetaPlazo*float64(diasPlazo)/overdueStepDays))
	upliftRiesgo := cfg.GammaRiesgo * pd30
	frac := clamp01(baseAnticipo(color) + upliftPlazo + upliftRiesgo)

	var r domain.Recommendation
	switch {
	case frac >= 1:
		r.Modo = domain.ModePrepagoEscrow
		r.Anticipo = 100
		r.Escrow = true
	case frac >= anticipoThreshold:
		r.Modo = domain.ModeAnticipoContraentrega
		r.Anticipo = int(math.Round(100 * frac))
	default:
		r.Modo = domain.ModeNormal
		r.Anticipo = int(math.Round(100 * frac))
	}
	r.Stop = pd30 > stopPD30Threshold || (color == domain.ColorRojo && inv.Estado == domain.InvoiceVencida)
	r.EL = round2(pd30 * cfg.LGD * inv.Monto)
	return r
}

func baseAnticipo(c domain.Color) float64 {
	switch c {
	case domain.ColorRojo:
		return 1.0
	case domain.ColorAmarillo:
		return 0.40
	default:
		return 0.10
	}
}

// DailyRate converts an annual rate to its daily compounding equivalent.
func DailyRate(annual float64) float64 {
	return math.Pow(1+annual, 1/daysPerYear) - 1
}

// CombinedDailyRate compounds daily inflation and the daily risk-free rate.
func CombinedDailyRate(inflation, riskFree float64) float64 {
	return (1+DailyRate(inflation))*(1+DailyRate(riskFree)) - 1
}

// TermMarkup is the surcharge implied by extending payment by days.
func TermMarkup(kd float64, days int) float64 {
	return math.Pow(1+kd, float64(days)) - 1
}

// DaysBetween counts whole calendar days from a to b, negative when b is
// before a. Each date is taken in its own location.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
