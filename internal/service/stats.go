package service

import (
	"logging_proxy/internal/logger"

	humanize "github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// StatsReporter periodically logs broadcaster counters.
type StatsReporter struct {
	cron   *cron.Cron
	stream EventStream
	log    *logger.Logger
}

// NewStatsReporter schedules a report with a standard cron spec or a
// descriptor such as "@every 1m".
func NewStatsReporter(schedule string, stream EventStream, log *logger.Logger) (*StatsReporter, error) {
	if log == nil {
		log = logger.Nop()
	}
	r := &StatsReporter{cron: cron.New(), stream: stream, log: log}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, err
	}
	return r, nil
}

// Report logs the current stats once.
func (r *StatsReporter) Report() {
	st := r.stream.Stats()
	r.log.Infow("event_stream_stats",
		"subscribers", st.Subscribers,
		"published", humanize.Comma(int64(st.Published)),
		"dropped", humanize.Comma(int64(st.Dropped)),
	)
}

func (r *StatsReporter) Start() { r.cron.Start() }

// Stop halts scheduling and waits for a running report to finish.
func (r *StatsReporter) Stop() { <-r.cron.Stop().Done() }
