// Command sentinel serves the behavioral trust-scoring websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sentinel/core/internal/api"
	"github.com/sentinel/core/internal/biometrics"
	"github.com/sentinel/core/internal/config"
	"github.com/sentinel/core/internal/metrics"
	"github.com/sentinel/core/internal/session"
	"github.com/sentinel/core/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("[Main] could not load .env", "error", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("[Main] invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	if err := run(cfg); err != nil {
		slog.Error("[Main] exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("[Main] stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	res, err := wire(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer res.close()

	registry := session.NewRegistry()
	stream := transport.NewStreamHandler(session.Deps{
		Store: res.store,
		Scorer: session.Scorer{
			Detector: res.detector,
			Bot: biometrics.BotHeuristics{
				LinearVelocityThreshold: cfg.Bot.LinearVelocityThreshold,
				AngularEpsilon:          cfg.Bot.AngularEpsilon,
			},
		},
		Cipher:  res.cipher,
		Sink:    res.dispatcher,
		Events:  res.emitter,
		Metrics: m,
		Policy:  policy(cfg.Trust),
	}, registry, cfg.Server.AllowedOrigins)

	srv := api.NewServer(api.Options{
		Store:           res.store,
		Evidence:        res.evidence,
		EvidenceBackend: res.evidence.Backend(),
		Cipher:          res.cipher,
		Detector:        res.detector,
		Sessions:        registry,
		Bus:             res.bus,
		Events:          res.emitter,
		Stream:          stream,
		Gatherer:        prometheus.DefaultGatherer,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("[Main] listening",
			"addr", httpServer.Addr,
			"store", res.store.Backend(),
			"evidence", res.evidence.Backend(),
			"detector", res.detector.Name(),
			"cipher", res.cipher.Algorithm(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("[Main] shutting down")

		timeout := time.Duration(cfg.Server.ShutdownSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		httpErr := httpServer.Shutdown(shutdownCtx)
		streamErr := stream.Shutdown(shutdownCtx)
		return errors.Join(httpErr, streamErr)
	})
	return g.Wait()
}

func policy(t config.TrustConfig) session.Policy {
	p := session.DefaultPolicy()
	p.Bounds.Min = t.MinScore
	p.Bounds.Max = t.MaxScore
	p.Bounds.Initial = t.InitialScore
	p.DecayInterval = t.DecayInterval()
	p.DecayPoints = t.DecayPoints
	return p
}
