package storage

import (
	"context"
	"encoding/json"
	"errors"
	"svcmon/internal/eventbus"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": <path without ext>.audit.jsonl
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

// AuditEntry is one persisted event. Attrs holds the event attributes as a
// JSON object.
type AuditEntry struct {
	At     time.Time       `json:"at"`
	Type   string          `json:"type"`
	Source string          `json:"source,omitempty"`
	ChatID int64           `json:"chat_id,omitempty"`
	Attrs  json.RawMessage `json:"attrs,omitempty"`
}

// Store is the audit persistence API.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// EntryFromEvent flattens ev. A "chat_id" attribute is lifted into ChatID.
func EntryFromEvent(ev eventbus.Event) AuditEntry {
	e := AuditEntry{At: ev.Time, Type: ev.Type, Source: ev.Source}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	switch v := ev.Attrs["chat_id"].(type) {
	case int64:
		e.ChatID = v
	case int:
		e.ChatID = int64(v)
	}
	if len(ev.Attrs) > 0 {
		if b, err := json.Marshal(ev.Attrs); err == nil {
			e.Attrs = b
		}
	}
	return e
}
