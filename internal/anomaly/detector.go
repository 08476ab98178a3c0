package anomaly

import (
	"log/slog"
	"math"
)

// Labels returned by Predict.
const (
	Inlier  = 1
	Outlier = -1
)

// NeutralRisk is reported when no model is available.
const NeutralRisk = 50.0

// Prediction is the outcome of scoring one vector.
type Prediction struct {
	Label int
	// Risk is 0..100, higher is more anomalous.
	Risk float64
}

// Detector scores feature vectors. Implementations are read-only and safe
// for concurrent use.
type Detector interface {
	Predict(x []float64) Prediction
	Name() string
}

// Fallback is used when no model could be loaded or trained. Everything is
// an inlier at neutral risk.
type Fallback struct{}

func (Fallback) Predict([]float64) Prediction {
	return Prediction{Label: Inlier, Risk: NeutralRisk}
}

func (Fallback) Name() string { return "fallback" }

// IsolationDetector scores vectors with a trained Forest.
type IsolationDetector struct {
	forest *Forest
}

// NewIsolationDetector wraps f.
func NewIsolationDetector(f *Forest) *IsolationDetector {
	return &IsolationDetector{forest: f}
}

// Forest returns the underlying model.
func (d *IsolationDetector) Forest() *Forest { return d.forest }

func (d *IsolationDetector) Name() string { return "isolation_forest" }

// Predict labels x and maps its decision value onto a 0..100 risk score.
// A malformed vector is scored neutrally.
func (d *IsolationDetector) Predict(x []float64) Prediction {
	decision, err := d.forest.Decision(x)
	if err != nil {
		slog.Warn("[Anomaly] scoring skipped", "error", err)
		return Prediction{Label: Inlier, Risk: NeutralRisk}
	}
	label := Inlier
	if decision < 0 {
		label = Outlier
	}
	return Prediction{Label: label, Risk: riskFromDecision(decision)}
}

func riskFromDecision(decision float64) float64 {
	return math.Max(0, math.Min(100, 50-decision*100))
}
