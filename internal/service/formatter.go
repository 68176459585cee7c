package service

import (
	"fmt"
	"time"

	"logging_proxy/internal/models"

	"github.com/google/uuid"
)

// RequestInfo is the request metadata a log event is built from.
type RequestInfo struct {
	Method      string
	Host        string
	Path        string // path plus query string
	ContentType string
}

// summary renders method, host, path and target in that order.
func summary(r RequestInfo, target string) string {
	return fmt.Sprintf("[%s] %s%s -> %s", r.Method, r.Host, r.Path, target)
}

// FormatEvent builds the info event for a forwarded request. body is attached
// as-is and may be nil.
func FormatEvent(r RequestInfo, target string, body any) models.LogEvent {
	return models.LogEvent{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Method:     r.Method,
		Host:       r.Host,
		Path:       r.Path,
		Target:     target,
		Type:       models.EventInfo,
		Message:    summary(r, target),
		Body:       body,
	}
}

// FormatError builds the error event for a request that could not be relayed.
func FormatError(r RequestInfo, target string, cause error) models.LogEvent {
	ev := FormatEvent(r, target, nil)
	ev.Type = models.EventError
	ev.Message = fmt.Sprintf("Error proxying %s: %v", ev.Message, cause)
	return ev
}
