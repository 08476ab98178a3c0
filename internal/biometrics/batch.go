// Package biometrics turns raw keystroke and pointer telemetry into the
// feature vector scored by the anomaly model, and evaluates the deterministic
// bot heuristics over the same features.
package biometrics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Key event types accepted in a batch. Anything else is ignored.
const (
	KeyDown = "keydown"
	KeyUp   = "keyup"
)

// ErrNotObject is returned for messages that are not a JSON object.
var ErrNotObject = errors.New("batch is not a JSON object")

// KeyEvent is one keyboard transition. Timestamp is in (fractional) seconds.
type KeyEvent struct {
	Type      string  `json:"type"`
	Key       string  `json:"key"`
	Timestamp float64 `json:"timestamp"`
}

// UnmarshalJSON reads the event loosely: a non-string key is kept as its
// JSON text, a non-string type matches nothing, and the timestamp may be a
// number, a numeric string or a bool.
func (k *KeyEvent) UnmarshalJSON(data []byte) error {
	var w struct {
		Type      json.RawMessage `json:"type"`
		Key       json.RawMessage `json:"key"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("keystroke: %w", err)
	}
	ts, err := looseFloat(w.Timestamp)
	if err != nil {
		return fmt.Errorf("keystroke timestamp: %w", err)
	}
	k.Type, _ = stringValue(w.Type)
	k.Key = keyName(w.Key)
	k.Timestamp = ts
	return nil
}

// PointerSample is one pointer position. Timestamp is in (fractional) seconds.
type PointerSample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp float64 `json:"timestamp"`
}

// UnmarshalJSON accepts numbers, numeric strings and bools for every field.
func (p *PointerSample) UnmarshalJSON(data []byte) error {
	var w struct {
		X         json.RawMessage `json:"x"`
		Y         json.RawMessage `json:"y"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("pointer sample: %w", err)
	}
	var err error
	if p.X, err = looseFloat(w.X); err != nil {
		return fmt.Errorf("pointer x: %w", err)
	}
	if p.Y, err = looseFloat(w.Y); err != nil {
		return fmt.Errorf("pointer y: %w", err)
	}
	if p.Timestamp, err = looseFloat(w.Timestamp); err != nil {
		return fmt.Errorf("pointer timestamp: %w", err)
	}
	return nil
}

// PeripheralEvent reports an untrusted peripheral (e.g. a USB HID device
// attached mid-session). An empty object counts as absent.
type PeripheralEvent struct {
	IsSuspicious bool `json:"isSuspicious"`

	present bool
}

// Present reports whether the event carried any fields at all.
func (p *PeripheralEvent) Present() bool {
	return p != nil && p.present
}

// UnmarshalJSON accepts any JSON object. isSuspicious is read with loose
// truthiness so "1", 1 and true all flag the device.
func (p *PeripheralEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("usbEvent: %w", err)
	}
	p.present = len(raw) > 0
	p.IsSuspicious = truthy(raw["isSuspicious"])
	return nil
}

// Batch is one telemetry message from a client.
type Batch struct {
	Keystrokes []KeyEvent       `json:"keystrokes"`
	Mouse      []PointerSample  `json:"mouse"`
	USBEvent   *PeripheralEvent `json:"usbEvent,omitempty"`
}

// DecodeBatch parses a raw message. Missing numeric fields default to zero;
// anything that is not a JSON object of the expected shape is an error.
func DecodeBatch(raw []byte) (*Batch, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &b, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func stringValue(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// keyName groups key events by the string value, or the JSON text of any
// other value.
func keyName(raw json.RawMessage) string {
	if s, ok := stringValue(raw); ok {
		return s
	}
	if isNull(raw) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

// looseFloat decodes a missing or null field as 0.
func looseFloat(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %s", bytes.TrimSpace(raw))
	}
}
