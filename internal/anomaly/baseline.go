package anomaly

import (
	"math"
	"math/rand/v2"
)

// BaselineSeed makes the synthetic baseline reproducible across restarts.
const BaselineSeed = 42

// DefaultBaselineSamples is the size of the synthetic training set.
const DefaultBaselineSamples = 512

// NewBaselineRand returns the generator used for baseline sampling and
// fitting.
func NewBaselineRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// BaselineSamples draws n synthetic human feature vectors:
// flight ~ N(120, 40), dwell ~ N(90, 30), rhythm ~ Gamma(2, 25),
// velocity ~ N(350, 150). Negative timings and speeds are clamped to zero.
func BaselineSamples(n int, rng *rand.Rand) [][]float64 {
	X := make([][]float64, n)
	for i := range X {
		X[i] = []float64{
			math.Max(0, 120+40*rng.NormFloat64()),
			math.Max(0, 90+30*rng.NormFloat64()),
			gamma(rng, 2, 25),
			math.Max(0, 350+150*rng.NormFloat64()),
		}
	}
	return X
}

// FitBaseline trains a forest on n synthetic samples.
func FitBaseline(n int, cfg Config, seed uint64) (*Forest, error) {
	if n <= 0 {
		n = DefaultBaselineSamples
	}
	rng := NewBaselineRand(seed)
	return Fit(BaselineSamples(n, rng), cfg, rng)
}

// gamma samples Gamma(shape, scale) with Marsaglia and Tsang's method.
// shape must be >= 1.
func gamma(rng *rand.Rand, shape, scale float64) float64 {
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v * scale
		}
	}
}
