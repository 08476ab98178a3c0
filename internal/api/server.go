// Package api exposes the HTTP surface: the telemetry websocket, health,
// metrics, the admin endpoints and the live event stream.
package api

import (
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinel/core/internal/anomaly"
	"github.com/sentinel/core/internal/events"
	"github.com/sentinel/core/internal/evidence"
	"github.com/sentinel/core/internal/session"
	"github.com/sentinel/core/internal/trust"
)

// Decrypter opens stored evidence.
type Decrypter interface {
	Decrypt(data []byte) ([]byte, error)
}

// Options wires the server to its collaborators. Stream, Gatherer and Bus
// are optional; their routes are not mounted when nil.
type Options struct {
	Store           trust.Store
	Evidence        evidence.Reader
	EvidenceBackend string
	Cipher          Decrypter
	Detector        anomaly.Detector
	Sessions        *session.Registry
	Bus             *events.EventBus
	Events          events.EventEmitter
	Stream          http.Handler
	Gatherer        prometheus.Gatherer
	AllowedOrigins  []string
}

// Server holds the HTTP handlers.
type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Detector == nil {
		opts.Detector = anomaly.Fallback{}
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry()
	}
	return &Server{opts: opts}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.opts.Stream != nil {
		r.Handle("/ws/stream/{clientId}", s.opts.Stream)
	}
	if s.opts.Bus != nil {
		r.HandleFunc("/events/stream", s.handleEventStream).Methods("GET")
	}

	r.HandleFunc("/trust/{clientId}", s.handleTrust).Methods("GET")
	r.HandleFunc("/system/reset", s.handleReset).Methods("POST", "OPTIONS")
	r.HandleFunc("/stats/history", s.handleHistory).Methods("GET")

	r.Use(corsMiddleware(s.opts.AllowedOrigins))
	r.Use(loggingMiddleware)
	return r
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("[API] JSON encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
