package evidence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytea(t *testing.T) {
	assert.Equal(t, `\x00ff10`, encodeBytea([]byte{0, 255, 16}))

	b, err := decodeBytea(`\x00ff10`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255, 16}, b)

	_, err = decodeBytea("00ff")
	assert.Error(t, err)
	_, err = decodeBytea(`\xzz`)
	assert.Error(t, err)
}

func TestAuditRowToRecord(t *testing.T) {
	id := uuid.New()
	row := auditRow{
		ID:            id.String(),
		ClientID:      "c1",
		Timestamp:     "2026-01-02T03:04:05.123456+00:00",
		RiskScore:     61.5,
		EncryptedData: `\x0102`,
	}

	rec, err := row.record()
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "c1", rec.ClientID)
	assert.Equal(t, 61.5, rec.RiskScore)
	assert.Equal(t, []byte{1, 2}, rec.Ciphertext)
	assert.True(t, rec.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)))

	row.ID = "not-a-uuid"
	_, err = row.record()
	assert.Error(t, err)
}

func TestNewSupabaseStore_RequiresCredentials(t *testing.T) {
	_, err := NewSupabaseStore("", "key")
	assert.Error(t, err)
	_, err = NewSupabaseStore("https://example.supabase.co", "")
	assert.Error(t, err)
}
