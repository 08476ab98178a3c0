// Package session runs one client's telemetry stream: it scores each batch,
// adjusts the client's trust, applies the idle decay and hands encrypted
// batches off for persistence.
package session

import (
	"github.com/sentinel/core/internal/anomaly"
	"github.com/sentinel/core/internal/biometrics"
)

// Trust deltas per batch outcome.
const (
	DeltaSuspiciousPeripheral = -20
	DeltaPeripheral           = -5
	DeltaBot                  = -30
	DeltaAnomaly              = -10
	DeltaNormal               = +1
	DeltaInvalid              = -2
)

// Reason labels why trust changed.
type Reason string

const (
	ReasonSuspiciousPeripheral Reason = "usb_suspicious"
	ReasonPeripheral           Reason = "usb_event"
	ReasonBot                  Reason = "bot"
	ReasonAnomaly              Reason = "anomaly"
	ReasonNormal               Reason = "normal"
	ReasonInvalid              Reason = "invalid_json"
	ReasonDecay                Reason = "decay"
)

// Scorer combines the anomaly model and the bot heuristics. It holds no
// mutable state and is shared by every session.
type Scorer struct {
	Detector anomaly.Detector
	Bot      biometrics.BotHeuristics
}

// Assessment is everything learned from one batch.
type Assessment struct {
	Features   biometrics.Features
	Prediction anomaly.Prediction
	IsBot      bool
}

// Assess extracts features and scores them.
func (s Scorer) Assess(b *biometrics.Batch) Assessment {
	f := biometrics.Extract(b)
	det := s.Detector
	if det == nil {
		det = anomaly.Fallback{}
	}
	return Assessment{
		Features:   f,
		Prediction: det.Predict(f.Vector.Slice()),
		IsBot:      s.Bot.Detect(f),
	}
}

// TrustDelta picks the adjustment for a decoded batch. A peripheral event
// outranks the bot verdict, which outranks the anomaly label.
func TrustDelta(b *biometrics.Batch, a Assessment) (int, Reason) {
	switch {
	case b != nil && b.USBEvent.Present() && b.USBEvent.IsSuspicious:
		return DeltaSuspiciousPeripheral, ReasonSuspiciousPeripheral
	case b != nil && b.USBEvent.Present():
		return DeltaPeripheral, ReasonPeripheral
	case a.IsBot:
		return DeltaBot, ReasonBot
	case a.Prediction.Label == anomaly.Outlier:
		return DeltaAnomaly, ReasonAnomaly
	default:
		return DeltaNormal, ReasonNormal
	}
}

// FocusLevel buckets a risk score for display.
func FocusLevel(risk float64) string {
	switch {
	case risk < 30:
		return "High"
	case risk < 60:
		return "Medium"
	default:
		return "Distracted"
	}
}
