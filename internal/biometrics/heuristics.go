package biometrics

// BotHeuristics flags telemetry that no human produces: perfectly regular
// typing, or fast pointer motion along a straight line.
type BotHeuristics struct {
	// LinearVelocityThreshold is the pointer speed (px/s) at or above which
	// straight-line motion is treated as scripted.
	LinearVelocityThreshold float64
	// AngularEpsilon is the angular velocity at or below which motion counts
	// as straight.
	AngularEpsilon          float64
}

// DefaultBotHeuristics returns the stock thresholds.
func DefaultBotHeuristics() BotHeuristics {
	return BotHeuristics{
		LinearVelocityThreshold: 800.0,
		AngularEpsilon:          0.05,
	}
}

// Detect reports whether the features look automated. It only reads f and
// is safe for concurrent use.
func (h BotHeuristics) Detect(f Features) bool {
	// A zero variance is only meaningful once a rhythm was actually measured.
	if f.FlightSamples > 0 && f.Extras[FeatureRhythmVariance] == 0.0 {
		return true
	}
	return f.Extras[FeatureMouseVelocity] >= h.LinearVelocityThreshold &&
		f.Extras[FeatureAngularVelocity] <= h.AngularEpsilon
}
