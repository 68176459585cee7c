package service

import (
	"testing"

	"logging_proxy/internal/logger"
	"logging_proxy/internal/models"
)

func TestNewStatsReporter_InvalidSchedule(t *testing.T) {
	if _, err := NewStatsReporter("every now and then", NewBroadcaster(1, nil), logger.Nop()); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestStatsReporter_ReportAndLifecycle(t *testing.T) {
	b := NewBroadcaster(1, nil)
	b.Subscribe()
	b.Publish(models.LogEvent{Message: "a"})
	b.Publish(models.LogEvent{Message: "b"})

	r, err := NewStatsReporter("@every 1h", b, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(r.cron.Entries()); got != 1 {
		t.Fatalf("entries = %d; want 1", got)
	}

	r.Report()
	r.Start()
	r.Stop()
}
