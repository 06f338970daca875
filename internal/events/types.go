package events

import (
	"fmt"
	"strings"
	"time"
)

const (
	TypeCreated  = "created"
	TypeClosed   = "closed"
	TypeActivity = "activity"
	TypeIdle     = "idle"
	TypeShown    = "shown"
)

// Event is the normalized terminal-lifecycle payload termkeeper emits
// to external consumers (status bars, notifiers).
type Event struct {
	Backend    string    `json:"backend"`
	TerminalID string    `json:"terminal_id"`
	Feature    string    `json:"feature,omitempty"`
	Category   string    `json:"category,omitempty"`
	Type       string    `json:"type"`
	TS         time.Time `json:"ts"`
	Message    string    `json:"message,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Backend) == "" {
		return fmt.Errorf("backend is required")
	}
	if strings.TrimSpace(e.TerminalID) == "" {
		return fmt.Errorf("terminal_id is required")
	}
	if !isValidType(e.Type) {
		return fmt.Errorf("invalid type %q", e.Type)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// IsAttentionType reports whether the event marks a terminal that may
// need the user's attention.
func IsAttentionType(typ string) bool {
	return typ == TypeIdle || typ == TypeClosed
}

func isValidType(typ string) bool {
	switch typ {
	case TypeCreated, TypeClosed, TypeActivity, TypeIdle, TypeShown:
		return true
	default:
		return false
	}
}
