// Package audit is the append-only lifecycle event sink. Emission is
// fire-and-forget from the engine's perspective: a sink failure is logged
// and never propagated into the session operation that produced the event.
package audit

import (
	"context"
	"time"
)

type EventType string

const (
	SessionStart      EventType = "session.start"
	SessionEnd        EventType = "session.end"
	SessionDisconnect EventType = "session.disconnect"
	SessionTimeout    EventType = "session.timeout"
)

type Event struct {
	Type        EventType         `json:"type"`
	SessionID   string            `json:"sessionId"`
	ProjectID   string            `json:"projectId"`
	TrackingKey string            `json:"trackingKey"`
	At          time.Time         `json:"at"`
	Fields      map[string]string `json:"fields,omitempty"`
}

type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(ctx context.Context, ev Event) error { return nil }
