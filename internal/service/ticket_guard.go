package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadflow/internal/errors"
	"leadflow/internal/metrics"
	"leadflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TicketDatabaseService defines the database operations needed by TicketGuard
type TicketDatabaseService interface {
	FindRecentTicket(ctx context.Context, tenantID int64, contactID string, connectionID int64, since time.Time) (*models.Ticket, error)
	CreateTicketWithTracking(ctx context.Context, ticket *models.Ticket, tracking *models.TicketTracking) error
}

// TicketRequest identifies the thread a run needs
type TicketRequest struct {
	TenantID     int64
	ContactID    string
	ConnectionID int64
}

func (r TicketRequest) key() string {
	return fmt.Sprintf("%d:%s", r.TenantID, r.ContactID)
}

// TicketGuard serializes thread creation per (tenant, contact)
type TicketGuard struct {
	db           TicketDatabaseService
	dedupeWindow time.Duration
	logger       *logrus.Logger
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewTicketGuard creates a guard. A ticket opened for the same tenant, contact
// and connection within dedupeWindow is reused; zero disables reuse.
func NewTicketGuard(db TicketDatabaseService, dedupeWindow time.Duration, logger *logrus.Logger) *TicketGuard {
	return &TicketGuard{
		db:           db,
		dedupeWindow: dedupeWindow,
		logger:       logger,
		now:          time.Now,
		locks:        make(map[string]*keyLock),
	}
}

// WithExclusiveTicketCreation runs fn while holding the lock for key. Waiting
// for the lock honours ctx.
func (g *TicketGuard) WithExclusiveTicketCreation(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := g.acquireRef(key)
	defer g.releaseRef(key, lock)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		return errors.NewTimeoutError("ticket lock", "context done").WithContext("key", key)
	}
	defer func() { <-lock.ch }()

	return fn(ctx)
}

func (g *TicketGuard) acquireRef(key string) *keyLock {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.locks[key]
	if !ok {
		lock = &keyLock{ch: make(chan struct{}, 1)}
		g.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (g *TicketGuard) releaseRef(key string, lock *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(g.locks, key)
	}
}

// activeKeys reports how many keys currently hold lock state
func (g *TicketGuard) activeKeys() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}

// OpenTicket returns the thread for req, creating the ticket and its tracking
// record together. created is false when a ticket inside the dedupe window was reused.
func (g *TicketGuard) OpenTicket(ctx context.Context, req TicketRequest) (ticket *models.Ticket, created bool, err error) {
	err = g.WithExclusiveTicketCreation(ctx, req.key(), func(ctx context.Context) error {
		ts := g.now().UTC()

		if g.dedupeWindow > 0 {
			recent, err := g.db.FindRecentTicket(ctx, req.TenantID, req.ContactID, req.ConnectionID, ts.Add(-g.dedupeWindow))
			if err != nil {
				return errors.NewDatabaseError("find recent ticket", err)
			}
			if recent != nil {
				ticket = recent
				return nil
			}
		}

		t := &models.Ticket{
			ID:           uuid.NewString(),
			TenantID:     req.TenantID,
			ContactID:    req.ContactID,
			ConnectionID: req.ConnectionID,
			Status:       models.TicketStatusPending,
			CreatedAt:    ts,
		}
		tracking := &models.TicketTracking{
			ID:           uuid.NewString(),
			TicketID:     t.ID,
			TenantID:     req.TenantID,
			ConnectionID: req.ConnectionID,
			QueuedAt:     ts,
		}
		if err := g.db.CreateTicketWithTracking(ctx, t, tracking); err != nil {
			return errors.NewDatabaseError("create ticket", err)
		}
		ticket = t
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	metrics.RecordTicket(created)
	g.logger.WithFields(logrus.Fields{
		LogFieldTenantID:  req.TenantID,
		LogFieldContactID: req.ContactID,
		LogFieldTicketID:  ticket.ID,
		"created":         created,
	}).Debug("Ticket ready")
	return ticket, created, nil
}
