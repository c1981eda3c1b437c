// Package scoring holds the pure risk functions: the client PayScore, the
// invoice InvScore with its time-value markup, and the policy recommendation.
package scoring

import (
	"math"

	"github.com/shopspring/decimal"

	"cobranzas/internal/domain"
)

const (
	// PD180Cap is the ceiling for the client default probability.
	PD180Cap = 0.95

	verdeBelow    = 0.08
	amarilloBelow = 0.20

	dsoHorizonDays = 90.0
	agingScale     = 100000.0
)

// ClientScore is the output of a client scoring run.
type ClientScore struct {
	PD180 float64
	Color domain.Color
}

// features are the normalised [0,1] inputs shared by every engine.
type features struct {
	lateness float64
	dso      float64
	aging    float64
	overdue  float64
	trend    float64
}

func extract(c domain.Client) features {
	d := domain.Defaults
	pct := domain.Or(c.PctOnTime180, d.PctOnTime180)
	dso := domain.Or(c.DSO180, d.DSO180)
	aging := domain.Or(c.Aging30, d.Aging) + domain.Or(c.Aging60, d.Aging) + domain.Or(c.Aging90, d.Aging)
	total := domain.Or(c.DeudaTotal, d.DeudaTotal)
	vencida := domain.Or(c.DeudaVencida, d.DeudaVencida)
	trend := domain.Or(c.TendenciaPD, d.TendenciaPD)

	return features{
		lateness: clamp01(1 - pct),
		dso:      clamp01(dso / dsoHorizonDays),
		aging:    clamp01(aging / agingScale),
		overdue:  clamp01(vencida / math.Max(total, 1)),
		trend:    clamp01(math.Max(trend, 0)),
	}
}

// ScorePayment is the heuristic PayScore.
func ScorePayment(c domain.Client) ClientScore {
	f := extract(c)
	sum := f.lateness*0.35 +
		f.dso*0.25 +
		f.aging*0.20 +
		f.overdue*0.15 +
		f.trend*0.05
	pd := round4(math.Min(sum, PD180Cap))
	return ClientScore{PD180: pd, Color: ColorFor(pd)}
}

// ColorFor maps a PD180 to its tier.
func ColorFor(pd float64) domain.Color {
	switch {
	case pd < verdeBelow:
		return domain.ColorVerde
	case pd < amarilloBelow:
		return domain.ColorAmarillo
	default:
		return domain.ColorRojo
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 { return roundTo(v, 4) }
func round2(v float64) float64 { return roundTo(v, 2) }

func roundTo(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Round2 rounds a currency amount to cents.
func Round2(v float64) float64 { return round2(v) }
