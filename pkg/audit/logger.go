// Package audit emits the broker's JSON-line event stream: one line per
// committed mutation, minted preview, and security denial. This stream
// is operational logging; the durable per-field audit trail lives in the
// store's edit_history table and rides the mutation transaction.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventPreview  EventType = "PREVIEW"
	EventMutation EventType = "MUTATION"
	EventCancel   EventType = "CANCEL"
	EventSecurity EventType = "SECURITY"
)

// Event is a structured audit record.
type Event struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principal_id"`
	Type        EventType      `json:"type"`
	Action      string         `json:"action"`
	ItemID      int64          `json:"item_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(principalID string, eventType EventType, action string, itemID int64, metadata map[string]any)
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// Allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(principalID string, eventType EventType, action string, itemID int64, metadata map[string]any) {
	event := Event{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		Type:        eventType,
		Action:      action,
		ItemID:      itemID,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return
	}
	// Prefix with AUDIT: for easy filtering
	_, _ = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
}

// Nop returns a logger that drops everything, for tests.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Record(string, EventType, string, int64, map[string]any) {}
