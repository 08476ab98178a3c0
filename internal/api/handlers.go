package api

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sentinel/core/internal/events"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":   "ok",
		"detector": s.opts.Detector.Name(),
		"sessions": s.opts.Sessions.Len(),
	}
	if s.opts.Store != nil {
		resp["store"] = s.opts.Store.Backend()
	}
	if s.opts.EvidenceBackend != "" {
		resp["evidence"] = s.opts.EvidenceBackend
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	score, err := s.opts.Store.Get(r.Context(), clientID)
	if err != nil {
		slog.Warn("[API] trust lookup failed", "client_id", clientID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "trust store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id":  clientID,
		"trustScore": score,
	})
}

// handleReset deletes one client's trust record, or every record when no
// client_id is given.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))

	ids := []string{clientID}
	if clientID == "" {
		var err error
		ids, err = s.opts.Store.ScanPrefix(ctx, "")
		if err != nil {
			slog.Error("[API] reset scan failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "trust store unavailable")
			return
		}
	}

	removed := 0
	if len(ids) > 0 {
		var err error
		removed, err = s.opts.Store.Delete(ctx, ids...)
		if err != nil {
			slog.Error("[API] reset failed", "client_id", clientID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "trust store unavailable")
			return
		}
	}

	subject := clientID
	if subject == "" {
		subject = "*"
	}
	s.opts.Events.Emit(events.TypeTrustReset, "/system/reset", subject, map[string]interface{}{
		"removed": removed,
	})
	slog.Info("[API] trust reset", "client_id", subject, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "removed": removed})
}

// handleHistory lists recent evidence newest first, either as ciphertext
// hex or decrypted. A record that fails to decrypt is returned with a null
// raw field.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.Evidence == nil {
		writeError(w, http.StatusServiceUnavailable, "evidence store not configured")
		return
	}
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	decrypt := false
	if v := q.Get("decrypt"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid decrypt %q", v))
			return
		}
		decrypt = b
	}
	if decrypt && s.opts.Cipher == nil {
		writeError(w, http.StatusServiceUnavailable, "no cipher configured")
		return
	}

	records, err := s.opts.Evidence.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("[API] history query failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "evidence store unavailable")
		return
	}

	items := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		item := map[string]interface{}{
			"id":         rec.ID.String(),
			"timestamp":  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			"risk_score": rec.RiskScore,
			"client_id":  rec.ClientID,
		}
		if decrypt {
			plain, err := s.opts.Cipher.Decrypt(rec.Ciphertext)
			if err != nil {
				slog.Warn("[API] history record did not decrypt", "id", rec.ID, "error", err)
				item["raw"] = nil
			} else {
				item["raw"] = string(plain)
			}
		} else {
			item["encrypted"] = hex.EncodeToString(rec.Ciphertext)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// handleEventStream serves bus events as Server-Sent Events. The optional
// events query parameter filters by comma-separated event types.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var eventTypes []string
	if filter := r.URL.Query().Get("events"); filter != "" {
		eventTypes = strings.Split(filter, ",")
	}

	ch := s.opts.Bus.Subscribe(eventTypes...)
	defer s.opts.Bus.Unsubscribe(ch)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := event.SSEFormat()
			if err != nil {
				continue
			}
			w.Write(data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
