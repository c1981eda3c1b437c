package scoring

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
)

const (
	EngineHeuristic = "heuristico"
	EngineML        = "ml"
)

var ErrUnknownEngine = eris.New("unknown scoring engine")

// Engine scores a client. Invoice scoring is shared by all engines.
type Engine interface {
	Name() string
	ScoreClient(c domain.Client) ClientScore
}

type heuristic struct{}

func (heuristic) Name() string { return EngineHeuristic }

func (heuristic) ScoreClient(c domain.Client) ClientScore { return ScorePayment(c) }

// logistic is the "ml" strategy: a fixed-coefficient logistic model over the
// heuristic features. No training happens here.
type logistic struct {
	intercept float64
	weights   features
}

func (logistic) Name() string { return EngineML }

func (l logistic) ScoreClient(c domain.Client) ClientScore {
	f := extract(c)
	z := l.intercept +
		l.weights.lateness*f.lateness +
		l.weights.dso*f.dso +
		l.weights.aging*f.aging +
		l.weights.overdue*f.overdue +
		l.weights.trend*f.trend
	pd := round4(math.Min(1/(1+math.Exp(-z)), PD180Cap))
	return ClientScore{PD180: pd, Color: ColorFor(pd)}
}

var engines = map[string]Engine{
	EngineHeuristic: heuristic{},
	EngineML: logistic{
		intercept: -4.0,
		weights:   features{lateness: 3.5, dso: 2.2, aging: 1.8, overdue: 1.5, trend: 1.0},
	},
}

// Lookup returns the engine registered under name; "" selects the heuristic.
func Lookup(name string) (Engine, error) {
	if name == "" {
		name = EngineHeuristic
	}
	e, ok := engines[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownEngine, "%q", name)
	}
	return e, nil
}

// Engines lists the registered engine names.
func Engines() []string {
	out := make([]string, 0, len(engines))
	for k := range engines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
