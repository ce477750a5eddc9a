package workers

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the connection is re-read.
const DefaultPollInterval = time.Second

// ConnectionProbe is the part of a connection the monitor reads.
type ConnectionProbe interface {
	IsOpen() bool
}

// ConnectionMonitor re-reads IsOpen on every tick and reports it.
// State transitions are pushed elsewhere; this loop only catches a missed one.
type ConnectionMonitor struct {
	log      *slog.Logger
	probe    ConnectionProbe
	interval time.Duration
	report   func(open bool)
}

func NewConnectionMonitor(log *slog.Logger, probe ConnectionProbe, interval time.Duration, report func(open bool)) *ConnectionMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ConnectionMonitor{log: log, probe: probe, interval: interval, report: report}
}

func (w *ConnectionMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping connection monitor")
			return nil
		case <-ticker.C:
			w.report(w.probe.IsOpen())
		}
	}
}
