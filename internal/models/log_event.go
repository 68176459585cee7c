package models

import (
	"regexp"
	"time"
)

// EventType classifies a LogEvent.
type EventType string

const (
	EventInfo  EventType = "info"
	EventError EventType = "error"
)

// LogEvent describes a single proxied request. Values are never mutated after
// they are published.
type LogEvent struct {
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Host       string    `json:"host"`
	Path       string    `json:"path"` // path plus query string
	Target     string    `json:"target"`
	Type       EventType `json:"type"`
	Message    string    `json:"message"`
	Body       any       `json:"body,omitempty"` // decoded request body, if any
}

// errorMarker is matched against error messages by ShouldDisplay.
var errorMarker = regexp.MustCompile(`Error`)

// ShouldDisplay is the dashboard display predicate: every non-error event is
// shown, error events only when their message mentions "Error". Observers apply
// it on their side; the broadcaster delivers every event regardless.
func ShouldDisplay(ev LogEvent) bool {
	return ev.Type != EventError || errorMarker.MatchString(ev.Message)
}
