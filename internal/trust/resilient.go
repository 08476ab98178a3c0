package trust

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ResilientOptions tune the breaker around the primary store.
type ResilientOptions struct {
	Name             string
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout          time.Duration
	// OnFallback is called each time an operation is served locally.
	OnFallback       func(op string)
	// OnStateChange is called on every breaker transition.
	OnStateChange    func(name string, from, to gobreaker.State)
}

// ResilientStore serves from a primary store behind a circuit breaker and
// degrades to a process-local MemoryStore when the primary is failing.
//
// Values written while degraded are local to this process and are not
// reconciled when the primary recovers. Successful primary writes are
// mirrored locally, so a fallback starts from the last known score.
type ResilientStore struct {
	primary Store
	local   *MemoryStore
	cb      *gobreaker.CircuitBreaker[any]
	onFall  func(op string)
}

// NewResilientStore wraps primary.
func NewResilientStore(primary Store, bounds Bounds, opts ResilientOptions) *ResilientStore {
	if opts.Name == "" {
		opts.Name = "trust-store"
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	threshold := opts.FailureThreshold

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[TrustStore] breaker state change", "name", name, "from", from.String(), "to", to.String())
			if opts.OnStateChange != nil {
				opts.OnStateChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &ResilientStore{
		primary: primary,
		local:   NewMemoryStore(bounds),
		cb:      cb,
		onFall:  opts.OnFallback,
	}
}

// State reports the breaker state.
func (s *ResilientStore) State() gobreaker.State { return s.cb.State() }

func (s *ResilientStore) fallback(op string, err error) {
	slog.Warn("[TrustStore] primary unavailable, serving locally", "op", op, "error", err)
	if s.onFall != nil {
		s.onFall(op)
	}
}

func (s *ResilientStore) Get(ctx context.Context, clientID string) (int, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.primary.Get(ctx, clientID)
	})
	if err != nil {
		s.fallback("get", err)
		return s.local.Get(ctx, clientID)
	}
	return v.(int), nil
}

func (s *ResilientStore) Set(ctx context.Context, clientID string, score int) (int, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.primary.Set(ctx, clientID, score)
	})
	if err != nil {
		s.fallback("set", err)
		return s.local.Set(ctx, clientID, score)
	}
	_, _ = s.local.Set(ctx, clientID, v.(int))
	return v.(int), nil
}

func (s *ResilientStore) Adjust(ctx context.Context, clientID string, delta int) (Change, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.primary.Adjust(ctx, clientID, delta)
	})
	if err != nil {
		s.fallback("adjust", err)
		return s.local.Adjust(ctx, clientID, delta)
	}
	c := v.(Change)
	_, _ = s.local.Set(ctx, clientID, c.After)
	return c, nil
}

func (s *ResilientStore) Delete(ctx context.Context, clientIDs ...string) (int, error) {
	localRemoved, _ := s.local.Delete(ctx, clientIDs...)
	v, err := s.cb.Execute(func() (any, error) {
		return s.primary.Delete(ctx, clientIDs...)
	})
	if err != nil {
		s.fallback("delete", err)
		return localRemoved, nil
	}
	return v.(int), nil
}

func (s *ResilientStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.primary.ScanPrefix(ctx, prefix)
	})
	if err != nil {
		s.fallback("scan", err)
		return s.local.ScanPrefix(ctx, prefix)
	}
	return v.([]string), nil
}

func (s *ResilientStore) Backend() string {
	return s.primary.Backend() + "+breaker"
}

func (s *ResilientStore) Close() error {
	_ = s.local.Close()
	return s.primary.Close()
}
