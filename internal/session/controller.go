package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinel/core/internal/anomaly"
	"github.com/sentinel/core/internal/biometrics"
	"github.com/sentinel/core/internal/events"
	"github.com/sentinel/core/internal/evidence"
	"github.com/sentinel/core/internal/metrics"
	"github.com/sentinel/core/internal/trust"
)

const eventSource = "/ws/stream"

// ErrAlreadyOpen is returned by a second Open.
var ErrAlreadyOpen = errors.New("session: already open")

// State is the session lifecycle state.
type State int32

const (
	// StateNew has not been opened yet.
	StateNew State = iota
	// StateActive saw activity since the last decay tick.
	StateActive
	// StateIdleWindow is waiting for activity before the next tick.
	StateIdleWindow
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateActive:
		return "ACTIVE"
	case StateIdleWindow:
		return "IDLE_WINDOW_OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Encrypter seals a batch before it leaves the process.
type Encrypter interface {
	Encrypt(plain []byte) ([]byte, error)
}

// Policy holds the trust rules shared by all sessions.
type Policy struct {
	Bounds        trust.Bounds
	DecayInterval time.Duration
	DecayPoints   int
}

// DefaultPolicy returns 0..100 from 80, losing 5 points every idle 2s.
func DefaultPolicy() Policy {
	return Policy{
		Bounds:        trust.DefaultBounds(),
		DecayInterval: 2 * time.Second,
		DecayPoints:   5,
	}
}

// Deps are the collaborators injected into every session.
type Deps struct {
	Store   trust.Store
	Scorer  Scorer
	Cipher  Encrypter
	Sink    evidence.Sink
	Events  events.EventEmitter
	Metrics *metrics.Metrics
	Policy  Policy
}

// Controller owns one client's session. Handle must be called from a
// single goroutine; the decay loop runs on its own goroutine and is
// serialized against Handle.
type Controller struct {
	clientID string
	deps     Deps

	// mu serializes trust mutations of this session.
	mu        sync.Mutex
	live      atomic.Bool
	state     atomic.Int32
	lastTrust atomic.Int64

	openOnce  sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewController prepares a session. Nothing happens until Open.
func NewController(clientID string, deps Deps) *Controller {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Scorer.Detector == nil {
		deps.Scorer.Detector = anomaly.Fallback{}
	}
	if deps.Policy.DecayInterval <= 0 {
		deps.Policy.DecayInterval = DefaultPolicy().DecayInterval
	}
	c := &Controller{
		clientID: clientID,
		deps:     deps,
		done:     make(chan struct{}),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	c.lastTrust.Store(int64(deps.Policy.Bounds.Initial))
	return c
}

// ClientID returns the session's client.
func (c *Controller) ClientID() string { return c.clientID }

// State returns the lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Trust returns the last trust score this session observed.
func (c *Controller) Trust() int { return int(c.lastTrust.Load()) }

// Open resets the client's trust to the initial score and starts the decay
// loop. The loop stops when Close is called or ctx is done.
func (c *Controller) Open(ctx context.Context) error {
	err := ErrAlreadyOpen
	c.openOnce.Do(func() {
		err = nil
		v, serr := c.deps.Store.Set(ctx, c.clientID, c.deps.Policy.Bounds.Initial)
		if serr != nil {
			slog.Warn("[Session] could not reset trust", "client_id", c.clientID, "error", serr)
			v = c.deps.Policy.Bounds.Initial
		}
		c.lastTrust.Store(int64(v))
		c.live.Store(true)
		c.state.Store(int32(StateActive))

		loopCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		go c.decayLoop(loopCtx)

		if m := c.deps.Metrics; m != nil {
			m.ActiveSessions.Inc()
		}
		slog.Info("[Session] opened", "client_id", c.clientID, "trust", v)
	})
	return err
}

// Close stops the decay loop and waits for it to exit. No trust mutation
// happens after Close returns.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		opened := c.State() != StateNew
		c.state.Store(int32(StateClosed))
		if !opened {
			return
		}
		c.cancel()
		<-c.done
		if m := c.deps.Metrics; m != nil {
			m.ActiveSessions.Dec()
		}
		slog.Info("[Session] closed", "client_id", c.clientID, "trust", c.Trust())
	})
}

func (c *Controller) decayLoop(ctx context.Context) {
	defer close(c.done)
	tick, stop := c.newTicker(c.deps.Policy.DecayInterval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.tick(ctx)
		}
	}
}

// tick applies the idle penalty if nothing arrived since the previous tick,
// then opens a new idle window.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || c.State() == StateClosed {
		return
	}

	wasLive := c.live.Swap(false)
	c.state.Store(int32(StateIdleWindow))
	if wasLive || c.deps.Policy.DecayPoints == 0 {
		return
	}

	change := c.adjust(ctx, -c.deps.Policy.DecayPoints, ReasonDecay)
	if m := c.deps.Metrics; m != nil {
		m.DecayPenalties.Inc()
	}
	c.deps.Events.Emit(events.TypeTrustDecayed, eventSource, c.clientID, map[string]interface{}{
		"trust": change.After,
		"delta": change.Applied(),
	})
}

// Handle processes one inbound message and returns the frame to send back.
// Failures of the store, cipher or sink are logged and never end the
// session.
func (c *Controller) Handle(ctx context.Context, raw []byte) Response {
	if c.State() == StateClosed {
		return Response{Error: ErrCodeClosed, TrustScore: c.Trust()}
	}
	c.live.Store(true)
	c.state.CompareAndSwap(int32(StateIdleWindow), int32(StateActive))

	c.mu.Lock()
	defer c.mu.Unlock()

	batch, err := biometrics.DecodeBatch(raw)
	if err != nil {
		slog.Debug("[Session] rejected message", "client_id", c.clientID, "error", err)
		change := c.adjust(ctx, DeltaInvalid, ReasonInvalid)
		if m := c.deps.Metrics; m != nil {
			m.BatchesProcessed.WithLabelValues("invalid_json").Inc()
		}
		return Response{Error: ErrCodeInvalidJSON, TrustScore: change.After}
	}

	a := c.deps.Scorer.Assess(batch)
	delta, reason := TrustDelta(batch, a)
	change := c.adjust(ctx, delta, reason)
	c.handOff(ctx, raw, a.Prediction.Risk)

	if m := c.deps.Metrics; m != nil {
		m.BatchesProcessed.WithLabelValues("processed").Inc()
		m.RiskScore.Observe(a.Prediction.Risk)
		if a.IsBot {
			m.BotDetections.Inc()
		}
	}
	if a.IsBot {
		c.deps.Events.Emit(events.TypeBotDetected, eventSource, c.clientID, map[string]interface{}{
			"features": a.Features.Extras,
		})
	}

	return Response{
		OK:         true,
		TrustScore: change.After,
		Report: &Report{
			RiskScore:  a.Prediction.Risk,
			Adjustment: change.Applied(),
			IsBot:      a.IsBot,
			Features:   a.Features.Extras,
			Reason:     reason,
			FocusLevel: FocusLevel(a.Prediction.Risk),
			Activity:   "Monitoring",
			Summary:    "processed",
		},
	}
}

// adjust applies delta through the store. If the store fails, the change is
// computed from the last score this session saw so the client still gets a
// consistent answer. Callers hold c.mu.
func (c *Controller) adjust(ctx context.Context, delta int, reason Reason) trust.Change {
	change, err := c.deps.Store.Adjust(ctx, c.clientID, delta)
	if err != nil {
		before := c.Trust()
		change = trust.Change{Before: before, After: c.deps.Policy.Bounds.Clamp(before + delta)}
		slog.Warn("[Session] trust store adjust failed, using last known score",
			"client_id", c.clientID, "delta", delta, "error", err)
	}
	c.lastTrust.Store(int64(change.After))

	if m := c.deps.Metrics; m != nil {
		m.TrustDeltas.WithLabelValues(string(reason)).Inc()
	}
	if reason != ReasonDecay {
		c.deps.Events.Emit(events.TypeTrustAdjusted, eventSource, c.clientID, map[string]interface{}{
			"trust":  change.After,
			"delta":  change.Applied(),
			"reason": string(reason),
		})
	}
	return change
}

// handOff encrypts the message exactly as received and passes it to the
// sink together with its risk score.
func (c *Controller) handOff(ctx context.Context, raw []byte, risk float64) {
	if c.deps.Cipher == nil || c.deps.Sink == nil {
		return
	}
	ct, err := c.deps.Cipher.Encrypt(raw)
	if err != nil {
		slog.Error("[Session] encrypt failed, batch not persisted", "client_id", c.clientID, "error", err)
		c.dropped()
		return
	}
	if err := c.deps.Sink.Record(ctx, evidence.NewRecord(c.clientID, risk, ct)); err != nil {
		slog.Warn("[Session] evidence hand-off failed", "client_id", c.clientID, "error", err)
		c.dropped()
	}
}

func (c *Controller) dropped() {
	if m := c.deps.Metrics; m != nil {
		m.EvidenceDropped.Inc()
	}
}
