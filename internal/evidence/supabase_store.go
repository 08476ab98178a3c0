package evidence

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	postgrest "github.com/supabase-community/postgrest-go"
	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseStore persists evidence through the Supabase REST API, into the
// same audit_logs and biometric_profiles tables PostgresStore creates.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore creates a store from a project URL and service key.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// auditRow is the REST shape of audit_logs. bytea travels as "\x<hex>".
type auditRow struct {
	ID            string  `json:"id"`
	ClientID      string  `json:"client_id"`
	Timestamp     string  `json:"timestamp"`
	RiskScore     float64 `json:"risk_score"`
	EncryptedData string  `json:"encrypted_data"`
}

type profileRow struct {
	ModelBlob string `json:"model_blob"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (s *SupabaseStore) Record(_ context.Context, rec Record) error {
	row := auditRow{
		ID:            rec.ID.String(),
		ClientID:      rec.ClientID,
		Timestamp:     rec.CreatedAt.Format(time.RFC3339Nano),
		RiskScore:     rec.RiskScore,
		EncryptedData: encodeBytea(rec.Ciphertext),
	}
	if _, _, err := s.client.From("audit_logs").Insert(row, false, "", "", "").Execute(); err != nil {
		return fmt.Errorf("save audit log %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SupabaseStore) Recent(_ context.Context, limit int) ([]Record, error) {
	var rows []auditRow
	_, err := s.client.From("audit_logs").
		Select("id,client_id,timestamp,risk_score,encrypted_data", "", false).
		Order("timestamp", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query audit_logs: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			slog.Warn("[Evidence:Supabase] skipping corrupt row", "id", row.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r auditRow) record() (Record, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Record{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Record{}, err
	}
	ct, err := decodeBytea(r.EncryptedData)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, ClientID: r.ClientID, RiskScore: r.RiskScore, Ciphertext: ct, CreatedAt: ts}, nil
}

func (s *SupabaseStore) LatestProfile(_ context.Context) ([]byte, error) {
	var rows []profileRow
	_, err := s.client.From("biometric_profiles").
		Select("model_blob,created_at", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("query biometric_profiles: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoProfile
	}
	return decodeBytea(rows[0].ModelBlob)
}

func (s *SupabaseStore) SaveProfile(_ context.Context, blob []byte) error {
	row := profileRow{ModelBlob: encodeBytea(blob)}
	if _, _, err := s.client.From("biometric_profiles").Insert(row, false, "", "", "").Execute(); err != nil {
		return fmt.Errorf("save biometric profile: %w", err)
	}
	return nil
}

func (s *SupabaseStore) Backend() string { return "supabase" }

func (s *SupabaseStore) Close() error { return nil }

func encodeBytea(b []byte) string {
	return `\x` + hex.EncodeToString(b)
}

func decodeBytea(s string) ([]byte, error) {
	if !strings.HasPrefix(s, `\x`) {
		return nil, fmt.Errorf("bytea value without \\x prefix")
	}
	return hex.DecodeString(s[2:])
}
