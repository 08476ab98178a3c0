// Package evidence persists encrypted telemetry batches for later forensic
// review, and stores the trained baseline model.
package evidence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoProfile is returned when no baseline model has been stored yet.
var ErrNoProfile = errors.New("evidence: no biometric profile stored")

// Record is one encrypted batch. Ciphertext is nonce||ciphertext from the
// vault; plaintext never reaches this package.
type Record struct {
	ID         uuid.UUID `json:"id"`
	ClientID   string    `json:"client_id"`
	RiskScore  float64   `json:"risk_score"`
	Ciphertext []byte    `json:"encrypted_data"`
	CreatedAt  time.Time `json:"timestamp"`
}

// NewRecord stamps a record with a fresh id and the current time.
func NewRecord(clientID string, risk float64, ciphertext []byte) Record {
	return Record{
		ID:         uuid.New(),
		ClientID:   clientID,
		RiskScore:  risk,
		Ciphertext: ciphertext,
		CreatedAt:  time.Now().UTC(),
	}
}

// Sink accepts records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Reader lists stored records, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// ProfileSource stores and loads serialized baseline models.
type ProfileSource interface {
	// LatestProfile returns the most recently saved model or ErrNoProfile.
	LatestProfile(ctx context.Context) ([]byte, error)
	SaveProfile(ctx context.Context, blob []byte) error
}

// Store is a complete evidence backend.
type Store interface {
	Sink
	Reader
	ProfileSource
	Backend() string
	Close() error
}

// MemoryStore keeps everything in process memory. Records and profiles are
// lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []Record
	profiles [][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemoryStore) LatestProfile(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.profiles) == 0 {
		return nil, ErrNoProfile
	}
	return s.profiles[len(s.profiles)-1], nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, append([]byte(nil), blob...))
	return nil
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
