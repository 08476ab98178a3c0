// Package anomaly scores behavioral feature vectors against an isolation
// forest trained on a human baseline.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	json "github.com/goccy/go-json"
)

const eulerGamma = 0.5772156649015329

var (
	// ErrDimensionMismatch is returned when a vector or a stored model does
	// not match the expected number of features.
	ErrDimensionMismatch = errors.New("anomaly: dimension mismatch")
	// ErrInvalidModel is returned when a stored model cannot be used.
	ErrInvalidModel      = errors.New("anomaly: invalid model")
)

// Config controls forest training.
type Config struct {
	Trees         int
	// MaxSamples caps the per-tree subsample. The effective size is
	// min(MaxSamples, len(X)).
	MaxSamples    int
	// Contamination is the expected outlier fraction of the training data.
	// It places the decision boundary.
	Contamination float64
}

// DefaultConfig returns the baseline training parameters.
func DefaultConfig() Config {
	return Config{Trees: 200, MaxSamples: 256, Contamination: 0.05}
}

// Node is one isolation tree node. A node without children is a leaf and
// records how many training rows reached it.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Size      int     `json:"n,omitempty"`
	Left      *Node   `json:"l,omitempty"`
	Right     *Node   `json:"r,omitempty"`
}

func (n *Node) leaf() bool { return n.Left == nil || n.Right == nil }

// Forest is a trained isolation forest. It is immutable after Fit or
// LoadForest and safe for concurrent scoring.
type Forest struct {
	Trees      []*Node `json:"trees"`
	Dim        int     `json:"dim"`
	SampleSize int     `json:"sample_size"`
	Offset     float64 `json:"offset"`
}

// Fit trains a forest on X. Every row must have the same length.
func Fit(X [][]float64, cfg Config, rng *rand.Rand) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("%w: empty training set", ErrInvalidModel)
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultConfig().Trees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultConfig().MaxSamples
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("%w: contamination %v out of (0, 0.5]", ErrInvalidModel, cfg.Contamination)
	}

	dim := len(X[0])
	for i, row := range X {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimensionMismatch, i, len(row), dim)
		}
	}

	psi := min(cfg.MaxSamples, len(X))
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &Forest{
		Trees:      make([]*Node, cfg.Trees),
		Dim:        dim,
		SampleSize: psi,
	}
	for i := range f.Trees {
		idx := rng.Perm(len(X))[:psi]
		sample := make([][]float64, psi)
		for j, k := range idx {
			sample[j] = X[k]
		}
		f.Trees[i] = grow(sample, 0, limit, rng)
	}

	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = f.score(row)
	}
	f.Offset = percentile(scores, 100*cfg.Contamination)
	return f, nil
}

func grow(rows [][]float64, depth, limit int, rng *rand.Rand) *Node {
	if depth >= limit || len(rows) <= 1 {
		return &Node{Size: len(rows)}
	}

	// only features that can still separate the rows
	var candidates []int
	for f := range rows[0] {
		lo, hi := bounds(rows, f)
		if lo < hi {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &Node{Size: len(rows)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	lo, hi := bounds(rows, feature)
	threshold := lo + rng.Float64()*(hi-lo)

	left := make([][]float64, 0, len(rows))
	right := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if row[feature] < threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Size: len(rows)}
	}
	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      grow(left, depth+1, limit, rng),
		Right:     grow(right, depth+1, limit, rng),
	}
}

func bounds(rows [][]float64, f int) (lo, hi float64) {
	lo, hi = rows[0][f], rows[0][f]
	for _, row := range rows[1:] {
		lo = math.Min(lo, row[f])
		hi = math.Max(hi, row[f])
	}
	return lo, hi
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func pathLength(n *Node, x []float64) float64 {
	depth := 0
	for !n.leaf() {
		if x[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.Size)
}

// score is the negated anomaly score: values near -1 are anomalous, values
// near -0.5 or above are normal.
func (f *Forest) score(x []float64) float64 {
	var sum float64
	for _, t := range f.Trees {
		sum += pathLength(t, x)
	}
	c := averagePathLength(f.SampleSize)
	if c == 0 {
		c = 1
	}
	return -math.Pow(2, -(sum/float64(len(f.Trees)))/c)
}

// Decision returns score - offset. Negative values are outliers.
func (f *Forest) Decision(x []float64) (float64, error) {
	if len(x) != f.Dim {
		return 0, fmt.Errorf("%w: got %d features, want %d", ErrDimensionMismatch, len(x), f.Dim)
	}
	return f.score(x) - f.Offset, nil
}

// MarshalBinary encodes the forest as JSON.
func (f *Forest) MarshalBinary() ([]byte, error) {
	return json.Marshal(f)
}

// LoadForest decodes a stored forest and checks it scores dim-length vectors.
func LoadForest(blob []byte, dim int) (*Forest, error) {
	var f Forest
	if err := json.Unmarshal(blob, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if len(f.Trees) == 0 || f.SampleSize <= 0 {
		return nil, fmt.Errorf("%w: no trees", ErrInvalidModel)
	}
	if f.Dim != dim {
		return nil, fmt.Errorf("%w: model has %d features, want %d", ErrDimensionMismatch, f.Dim, dim)
	}
	for i, t := range f.Trees {
		if err := validate(t, dim); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &f, nil
}

func validate(n *Node, dim int) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidModel)
	}
	if n.Left == nil && n.Right == nil {
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("%w: node with a single child", ErrInvalidModel)
	}
	if n.Feature < 0 || n.Feature >= dim {
		return fmt.Errorf("%w: split on feature %d", ErrDimensionMismatch, n.Feature)
	}
	if err := validate(n.Left, dim); err != nil {
		return err
	}
	return validate(n.Right, dim)
}

// percentile uses linear interpolation between closest ranks.
func percentile(xs []float64, p float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
}
