// Package schedule runs the daemon's periodic jobs: an MQTT heartbeat
// carrying the session status, and pruning of stored history.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/robplow/ebike-monitor/internal/mqtt"
	"github.com/robplow/ebike-monitor/internal/session"
)

const pruneTimeout = time.Minute

// StatusSource provides the session state for heartbeats.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// Pruner deletes history older than a cutoff. *storage.History satisfies it.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// Config holds job specs in cron syntax, including descriptors such as
// "@every 15m" and "@daily". An empty spec disables its job.
type Config struct {
	Heartbeat string
	Prune     string
	// Retention is the history kept by pruning. Zero disables pruning.
	Retention time.Duration
}

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron      *cron.Cron
	status    StatusSource
	publisher mqtt.Publisher
	pruner    Pruner
	retention time.Duration
	now       func() time.Time
}

// New registers the jobs whose collaborators are present: the heartbeat
// needs publisher, pruning needs pruner and a positive retention. It fails
// on a malformed spec. Call Start to begin running.
func New(cfg Config, status StatusSource, publisher mqtt.Publisher, pruner Pruner) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		status:    status,
		publisher: publisher,
		pruner:    pruner,
		retention: cfg.Retention,
		now:       time.Now,
	}

	if cfg.Heartbeat != "" && publisher != nil {
		if _, err := s.cron.AddFunc(cfg.Heartbeat, s.Heartbeat); err != nil {
			return nil, fmt.Errorf("schedule: heartbeat spec %q: %w", cfg.Heartbeat, err)
		}
		slog.Debug("[SCHEDULE] heartbeat scheduled", "spec", cfg.Heartbeat)
	}

	if cfg.Prune != "" && pruner != nil && cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(cfg.Prune, func() { s.Prune(context.Background()) }); err != nil {
			return nil, fmt.Errorf("schedule: prune spec %q: %w", cfg.Prune, err)
		}
		slog.Debug("[SCHEDULE] prune scheduled", "spec", cfg.Prune, "retention", cfg.Retention)
	}

	return s, nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("[SCHEDULE] started", "jobs", s.Jobs())
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("[SCHEDULE] stopped")
}

// Heartbeat publishes the current session status on the system topic.
func (s *Scheduler) Heartbeat() {
	event := mqtt.NewSystemEvent(mqtt.EventHeartbeat, "", s.status.Snapshot(), s.now())
	if err := s.publisher.PublishSystem(event); err != nil {
		slog.Warn("[SCHEDULE] heartbeat failed", "error", err)
	}
}

// Prune removes history older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	n, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		slog.Warn("[SCHEDULE] prune failed", "error", err)
		return
	}
	slog.Info("[SCHEDULE] history pruned", "rows", n, "before", cutoff.Format(time.RFC3339))
}
