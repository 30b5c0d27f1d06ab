package service

import (
	"context"
	"sync"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/errors"
	"leadflow/internal/metrics"
	"leadflow/internal/models"

	"github.com/sirupsen/logrus"
)

// ReplayableCodes are the dispatch failure codes worth another attempt
var ReplayableCodes = []string{
	string(errors.ErrCodeGatewayUnavailable),
	string(errors.ErrCodeDatabaseQuery),
	string(errors.ErrCodeDatabaseConnection),
	string(errors.ErrCodeTimeout),
}

// ReplayDatabaseService defines the database operations needed by the replay scheduler
type ReplayDatabaseService interface {
	ListReplayableSubmissions(ctx context.Context, olderThan time.Time, maxAttempts int, retryCodes []string, limit int) ([]*models.Submission, error)
}

// ReplayScheduler periodically re-enqueues submissions that never finished
// dispatch: ones the queue rejected, ones interrupted by shutdown and ones that
// failed with a retryable code.
type ReplayScheduler struct {
	db       ReplayDatabaseService
	queue    Enqueuer
	cfg      models.ReplayConfig
	logger   *logrus.Logger
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReplayScheduler creates a scheduler, filling unset config values with defaults
func NewReplayScheduler(db ReplayDatabaseService, queue Enqueuer, cfg models.ReplayConfig, logger *logrus.Logger) *ReplayScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Duration(constants.DefaultReplayIntervalSec) * time.Second
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = time.Duration(constants.DefaultReplayMinAgeSec) * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultReplayMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultReplayBatchSize
	}
	return &ReplayScheduler{
		db:     db,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start runs one replay pass immediately and then one per interval until ctx
// is done or Stop is called
func (s *ReplayScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.cfg.Interval.String()).Info("Starting replay scheduler")

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Replay scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Replay scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop ends Start's loop. It is safe to call more than once.
func (s *ReplayScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce re-enqueues one batch and returns how many submissions were queued
func (s *ReplayScheduler) RunOnce(ctx context.Context) int {
	olderThan := s.now().UTC().Add(-s.cfg.MinAge)
	subs, err := s.db.ListReplayableSubmissions(ctx, olderThan, s.cfg.MaxAttempts, ReplayableCodes, s.cfg.BatchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list replayable submissions")
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	queued := 0
	for _, sub := range subs {
		if !s.queue.Enqueue(sub.ID) {
			break
		}
		queued++
		s.logger.WithFields(logrus.Fields{
			LogFieldSubmissionID: sub.ID,
			LogFieldTenantID:     sub.TenantID,
			LogFieldAttempt:      sub.DispatchAttempts + 1,
			LogFieldErrorCode:    sub.LastErrorCode,
		}).Debug("Replaying submission")
	}
	metrics.ReplayedSubmissionsTotal.Add(float64(queued))

	s.logger.WithFields(logrus.Fields{
		LogFieldCount: queued,
		"candidates":  len(subs),
	}).Info("Completed replay pass")
	return queued
}
