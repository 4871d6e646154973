// Package cleanup enforces data retention: old audit records and finished
// pipeline runs are purged on an interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/storage"
)

// EventPurger deletes persisted run events older than a cutoff.
type EventPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service runs the retention loop. All purges are idempotent and safe to run
// from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	audit  storage.AuditStore
	runs   storage.RunStore
	events EventPurger
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention service. logger may be nil.
func NewService(cfg *config.RetentionConfig, audit storage.AuditStore, runs storage.RunStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{config: cfg, audit: audit, runs: runs, logger: logger}
}

// SetEventPurger enables persisted-event pruning. Events share the run
// retention window.
func (s *Service) SetEventPurger(p EventPurger) {
	s.events = p
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"audit_retention_days", s.config.AuditRetentionDays,
		"run_retention_days", s.config.RunRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeAudit(ctx)
	s.purgeRuns(ctx)
	s.purgeEvents(ctx)
}

func (s *Service) purgeAudit(ctx context.Context) {
	if s.audit == nil || s.config.AuditRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.AuditRetentionDays)
	count, err := s.audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: audit purge failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention: purged audit records", "count", count)
	}
}

func (s *Service) purgeRuns(ctx context.Context) {
	if s.runs == nil || s.config.RunRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RunRetentionDays)
	count, err := s.runs.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: run purge failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention: purged finished runs", "count", count)
	}
}

func (s *Service) purgeEvents(ctx context.Context) {
	if s.events == nil || s.config.RunRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RunRetentionDays)
	count, err := s.events.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: event purge failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention: purged persisted events", "count", count)
	}
}
