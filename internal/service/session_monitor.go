package service

import (
	"context"
	"sync"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// SessionDatabaseService defines the database operations needed by SessionMonitor
type SessionDatabaseService interface {
	ListAllConnections(ctx context.Context) ([]models.Connection, error)
	UpdateConnectionStatus(ctx context.Context, id int64, status models.ConnectionStatus) error
}

// SessionLister lists the sessions the gateway hosts
type SessionLister interface {
	ListSessions(ctx context.Context) ([]types.SessionInfo, error)
}

// SessionMonitor keeps connection statuses in line with the gateway so that
// dispatch only selects sessions that can carry messages
type SessionMonitor struct {
	gateway        SessionLister
	db             SessionDatabaseService
	logger         *logrus.Logger
	checkInterval  time.Duration
	startupTimeout time.Duration
	now            func() time.Time

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	startingAt  map[string]time.Time
	lastWarning map[string]time.Time
}

// NewSessionMonitor creates a new session monitor
func NewSessionMonitor(gateway SessionLister, db SessionDatabaseService, logger *logrus.Logger, checkInterval, startupTimeout time.Duration) *SessionMonitor {
	if checkInterval <= 0 {
		checkInterval = time.Duration(constants.DefaultSessionHealthCheckSec) * time.Second
	}
	if startupTimeout <= 0 {
		startupTimeout = time.Duration(constants.DefaultSessionStartupTimeoutSec) * time.Second
	}
	return &SessionMonitor{
		gateway:        gateway,
		db:             db,
		logger:         logger,
		checkInterval:  checkInterval,
		startupTimeout: startupTimeout,
		now:            time.Now,
		startingAt:     make(map[string]time.Time),
		lastWarning:    make(map[string]time.Time),
	}
}

// Start begins monitoring sessions
func (sm *SessionMonitor) Start(ctx context.Context) {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		sm.logger.Warn("Session monitor is already running")
		return
	}
	sm.stopCh = make(chan struct{})
	sm.running = true
	stopCh := sm.stopCh
	sm.mu.Unlock()

	go sm.monitorLoop(ctx, stopCh)
	sm.logger.Info("Session monitor started")
}

// Stop stops monitoring sessions
func (sm *SessionMonitor) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.running {
		return
	}
	close(sm.stopCh)
	sm.running = false
	sm.logger.Info("Session monitor stopped")
}

func (sm *SessionMonitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(sm.checkInterval)
	defer ticker.Stop()

	sm.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			sm.Check(ctx)
		}
	}
}

// Check syncs every stored connection with its gateway session once. It
// returns how many connections changed status.
func (sm *SessionMonitor) Check(ctx context.Context) int {
	checkCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultGatewayTimeoutSec)*time.Second)
	defer cancel()

	sessions, err := sm.gateway.ListSessions(checkCtx)
	if err != nil {
		sm.logger.WithError(err).Error("Failed to list gateway sessions")
		return 0
	}
	conns, err := sm.db.ListAllConnections(checkCtx)
	if err != nil {
		sm.logger.WithError(err).Error("Failed to list connections")
		return 0
	}

	byName := make(map[string]types.SessionInfo, len(sessions))
	for _, s := range sessions {
		byName[s.Name] = s
	}

	changed := 0
	connected := 0
	for _, conn := range conns {
		info, found := byName[conn.SessionName]
		var gatewayStatus types.SessionStatus
		if found {
			gatewayStatus = info.Status
		}
		sm.trackStarting(conn.SessionName, gatewayStatus)

		status := connectionStatusFor(gatewayStatus, found)
		if status == models.ConnectionStatusConnected {
			connected++
		}
		if status == conn.Status {
			continue
		}

		if err := sm.db.UpdateConnectionStatus(checkCtx, conn.ID, status); err != nil {
			sm.logger.WithError(err).WithField(LogFieldConnectionID, conn.ID).Error("Failed to update connection status")
			continue
		}
		changed++
		sm.logger.WithFields(logrus.Fields{
			LogFieldConnectionID: conn.ID,
			LogFieldTenantID:     conn.TenantID,
			LogFieldSession:      conn.SessionName,
			"from":               conn.Status,
			"to":                 status,
		}).Info("Connection status changed")
	}

	metrics.ConnectedSessions.Set(float64(connected))
	return changed
}

// trackStarting warns once per startup timeout about sessions stuck in STARTING
func (sm *SessionMonitor) trackStarting(session string, status types.SessionStatus) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if status != types.SessionStatusStarting {
		delete(sm.startingAt, session)
		delete(sm.lastWarning, session)
		return
	}

	now := sm.now()
	since, ok := sm.startingAt[session]
	if !ok {
		sm.startingAt[session] = now
		return
	}
	if now.Sub(since) < sm.startupTimeout || now.Sub(sm.lastWarning[session]) < sm.startupTimeout {
		return
	}
	sm.lastWarning[session] = now
	sm.logger.WithFields(logrus.Fields{
		LogFieldSession: session,
		"duration":      now.Sub(since).Seconds(),
		"timeout":       sm.startupTimeout.Seconds(),
	}).Warn("Session stuck in STARTING status")
}

func connectionStatusFor(status types.SessionStatus, found bool) models.ConnectionStatus {
	if !found {
		return models.ConnectionStatusDisconnected
	}
	switch status {
	case types.SessionStatusWorking:
		return models.ConnectionStatusConnected
	case types.SessionStatusScanQR:
		return models.ConnectionStatusQRCode
	default:
		return models.ConnectionStatusDisconnected
	}
}
