// Package trust keeps the per-client trust score. Scores are integers held
// inside configured bounds; every backend clamps on write.
package trust

import (
	"context"
	"errors"
	"strings"
)

// KeyPrefix namespaces trust records in shared key-value stores.
const KeyPrefix = "trust:"

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("trust: store closed")

// Key returns the storage key for a client.
func Key(clientID string) string {
	return KeyPrefix + clientID
}

// ClientID strips the namespace from a storage key.
func ClientID(key string) string {
	return strings.TrimPrefix(key, KeyPrefix)
}

// Bounds are the score limits and the value of a client with no record.
type Bounds struct {
	Min     int
	Max     int
	Initial int
}

// DefaultBounds returns 0..100 starting at 80.
func DefaultBounds() Bounds {
	return Bounds{Min: 0, Max: 100, Initial: 80}
}

// Clamp returns v limited to [Min, Max].
func (b Bounds) Clamp(v int) int {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Change is the outcome of an Adjust. After-Before is the delta actually
// applied once clamping is accounted for.
type Change struct {
	Before int
	After  int
}

// Applied returns the effective delta.
func (c Change) Applied() int { return c.After - c.Before }

// Store persists trust scores.
//
// Get returns the initial score for unknown clients without creating a
// record. Adjust is atomic per client: concurrent adjustments to the same
// client never lose an update.
type Store interface {
	Get(ctx context.Context, clientID string) (int, error)
	Set(ctx context.Context, clientID string, score int) (int, error)
	Adjust(ctx context.Context, clientID string, delta int) (Change, error)
	// Delete removes the given clients and reports how many existed.
	Delete(ctx context.Context, clientIDs ...string) (int, error)
	// ScanPrefix lists client IDs starting with prefix. An empty prefix
	// lists every client.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	Backend() string
	Close() error
}
