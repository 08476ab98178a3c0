package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sentinel/core/internal/anomaly"
	"github.com/sentinel/core/internal/biometrics"
	"github.com/sentinel/core/internal/config"
	"github.com/sentinel/core/internal/events"
	"github.com/sentinel/core/internal/evidence"
	"github.com/sentinel/core/internal/infra"
	"github.com/sentinel/core/internal/metrics"
	"github.com/sentinel/core/internal/trust"
	"github.com/sentinel/core/internal/vault"
)

// resources are the process-wide collaborators built at startup.
type resources struct {
	store      trust.Store
	evidence   evidence.Store
	dispatcher *evidence.Dispatcher
	detector   anomaly.Detector
	cipher     *vault.Cipher
	bus        *events.EventBus
	emitter    events.EventEmitter

	closers []func() error
}

func (r *resources) close() {
	if r.dispatcher != nil {
		r.dispatcher.Shutdown()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			slog.Warn("[Main] close failed", "error", err)
		}
	}
}

func wire(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*resources, error) {
	res := &resources{}
	bounds := trust.Bounds{Min: cfg.Trust.MinScore, Max: cfg.Trust.MaxScore, Initial: cfg.Trust.InitialScore}

	var redis *infra.GoRedisAdapter
	if cfg.Redis.URL != "" {
		a, err := infra.NewGoRedisAdapter(cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			slog.Warn("[Main] Redis unavailable, using in-memory trust store", "error", err)
		} else {
			redis = a
		}
	}

	// trust store; it owns the Redis client and closes it
	if redis != nil {
		res.store = trust.NewResilientStore(trust.NewRedisStore(redis, bounds), bounds, trust.ResilientOptions{
			Name:             "trust-redis",
			FailureThreshold: cfg.Redis.BreakerFailures,
			Timeout:          time.Duration(cfg.Redis.BreakerSeconds) * time.Second,
			OnFallback: func(op string) {
				m.StoreFallbacks.WithLabelValues(op).Inc()
			},
			OnStateChange: func(name string, _, to gobreaker.State) {
				m.BreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
	} else {
		res.store = trust.NewMemoryStore(bounds)
	}
	res.closers = append(res.closers, res.store.Close)

	// evidence
	store, err := openEvidence(ctx, cfg)
	if err != nil {
		res.close()
		return nil, err
	}
	res.evidence = store
	res.closers = append(res.closers, store.Close)
	res.dispatcher = evidence.NewDispatcher(store, evidence.DispatcherOptions{
		Workers:      cfg.Evidence.Workers,
		QueueSize:    cfg.Evidence.QueueSize,
		WriteTimeout: time.Duration(cfg.Evidence.WriteTimeoutSeconds) * time.Second,
		OnResult:     m.EvidenceResult,
	})

	res.detector = loadDetector(ctx, cfg.Model, store)

	// cipher
	if cfg.Vault.Key != "" {
		res.cipher, err = vault.NewFromSecret(cfg.Vault.Key, cfg.Vault.Algorithm)
	} else {
		slog.Warn("[Main] no vault key configured, generating an ephemeral key; stored evidence will not be readable after restart")
		res.cipher, err = vault.Generate(cfg.Vault.Algorithm)
	}
	if err != nil {
		res.close()
		return nil, fmt.Errorf("vault: %w", err)
	}

	// events
	switch {
	case cfg.Events.PubSubProject != "" && cfg.Events.PubSubTopic != "":
		pb, err := events.NewPubSubEventBus(ctx, cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			slog.Warn("[Main] Pub/Sub unavailable, events stay in-process", "error", err)
			break
		}
		res.bus, res.emitter = pb.EventBus, pb
		res.closers = append(res.closers, pb.Close)
	case redis != nil && cfg.Redis.Channel != "":
		relay, err := events.NewRedisRelay(ctx, redis, cfg.Redis.Channel)
		if err != nil {
			slog.Warn("[Main] Redis relay unavailable, events stay in-process", "error", err)
			break
		}
		res.bus, res.emitter = relay.EventBus, relay
		res.closers = append(res.closers, relay.Close)
	}
	if res.bus == nil {
		bus := events.NewEventBus()
		res.bus, res.emitter = bus, bus
	}

	return res, nil
}

// openEvidence prefers Postgres, then Supabase, then process memory.
func openEvidence(ctx context.Context, cfg *config.Config) (evidence.Store, error) {
	if cfg.Database.URL != "" {
		pg, err := evidence.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("evidence migrate: %w", err)
			}
		}
		return pg, nil
	}
	if cfg.Supabase.URL != "" {
		sb, err := evidence.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
		return sb, nil
	}
	slog.Warn("[Main] no database configured, evidence is kept in memory only")
	return evidence.NewMemoryStore(), nil
}

// loadDetector uses the stored profile when there is one, otherwise fits
// the synthetic baseline. Any failure degrades to the neutral fallback.
func loadDetector(ctx context.Context, cfg config.ModelConfig, profiles evidence.ProfileSource) anomaly.Detector {
	dim := len(biometrics.Vector{})

	blob, err := profiles.LatestProfile(ctx)
	switch {
	case err == nil:
		forest, lerr := anomaly.LoadForest(blob, dim)
		if lerr == nil {
			slog.Info("[Main] loaded stored biometric profile", "trees", len(forest.Trees))
			return anomaly.NewIsolationDetector(forest)
		}
		slog.Warn("[Main] stored profile unusable, fitting baseline", "error", lerr)
	case errors.Is(err, evidence.ErrNoProfile):
		slog.Info("[Main] no stored profile, fitting baseline")
	default:
		slog.Warn("[Main] profile lookup failed, fitting baseline", "error", err)
	}

	forest, err := anomaly.FitBaseline(cfg.BaselineSamples, anomaly.Config{
		Trees:         cfg.Trees,
		MaxSamples:    cfg.MaxSamples,
		Contamination: cfg.Contamination,
	}, cfg.Seed)
	if err != nil {
		slog.Error("[Main] baseline fit failed, scoring neutrally", "error", err)
		return anomaly.Fallback{}
	}

	if cfg.SaveBaseline {
		if blob, err := forest.MarshalBinary(); err != nil {
			slog.Warn("[Main] could not encode baseline", "error", err)
		} else if err := profiles.SaveProfile(ctx, blob); err != nil {
			slog.Warn("[Main] could not store baseline profile", "error", err)
		}
	}
	return anomaly.NewIsolationDetector(forest)
}
