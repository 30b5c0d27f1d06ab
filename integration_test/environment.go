package integration_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"leadflow/internal/database"
	"leadflow/internal/media"
	"leadflow/internal/models"
	"leadflow/internal/service"
	"leadflow/pkg/whatsapp"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	sessionName = "default"
	tenantID    = int64(1)

	dispatchTimeout = 10 * time.Second
)

// pngHeader is enough for content sniffing to report image/png
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

// TestEnvironment wires the real store, gateway client and pipeline against a
// fake gateway, the same way the server binary does.
type TestEnvironment struct {
	t *testing.T

	DB           *database.Database
	Gateway      *FakeGateway
	Client       *whatsapp.WhatsAppClient
	Orchestrator *service.Orchestrator
	Dispatcher   *service.Dispatcher
	Intake       *service.Intake
	Monitor      *service.SessionMonitor
	PublicRoot   string

	completed chan *service.DispatchSummary
	stopped   bool
}

// EnvironmentOptions tweaks the pipeline for one test
type EnvironmentOptions struct {
	Intake       models.IntakeConfig
	DedupeWindow time.Duration
}

// NewTestEnvironment builds an isolated environment and registers its cleanup
func NewTestEnvironment(t *testing.T, opts EnvironmentOptions) *TestEnvironment {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(dir, "leadflow.db"))
	require.NoError(t, err)

	publicRoot := filepath.Join(dir, "public")
	require.NoError(t, os.MkdirAll(filepath.Join(publicRoot, "tenant1", "landing-pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(publicRoot, "tenant1", "landing-pages", "welcome.png"), pngHeader, 0o600))

	gateway := NewFakeGateway()
	gateway.SetSession(sessionName, types.SessionStatusWorking)

	logger := quietLogger()

	client := whatsapp.NewClientWithLogger(types.ClientConfig{
		BaseURL:             gateway.URL(),
		Timeout:             5 * time.Second,
		BreakerMaxFailures:  50,
		BreakerResetTimeout: time.Second,
	}, logger)

	images := media.NewImageResolver(models.MediaConfig{
		PublicRoot:             publicRoot,
		PublicPrefix:           "/public/",
		AllowedImageExtensions: []string{"png", "jpg"},
		MaxImageMB:             1,
	}, logger)

	dedupe := opts.DedupeWindow
	if dedupe == 0 {
		dedupe = time.Hour
	}
	orchestrator := service.NewOrchestrator(db, client, images, models.PipelineConfig{
		DefaultCountryCode:    "55",
		Workers:               2,
		QueueSize:             16,
		TicketDedupeWindow:    dedupe,
		Timezone:              "America/Sao_Paulo",
		ProfilePictureTimeout: time.Second,
	}, models.GatewayConfig{
		APIBaseURL:    gateway.URL(),
		LookupTimeout: 2 * time.Second,
	}, logger)

	env := &TestEnvironment{
		t:            t,
		DB:           db,
		Gateway:      gateway,
		Client:       client,
		Orchestrator: orchestrator,
		PublicRoot:   publicRoot,
		completed:    make(chan *service.DispatchSummary, 32),
	}

	env.Dispatcher = service.NewDispatcher(orchestrator, 2, 16, logger)
	env.Dispatcher.OnComplete(func(s *service.DispatchSummary) {
		env.completed <- s
	})
	env.Dispatcher.Start(context.Background())

	env.Intake = service.NewIntake(db, env.Dispatcher, opts.Intake, logger)
	env.Monitor = service.NewSessionMonitor(client, db, logger, time.Minute, time.Minute)

	t.Cleanup(env.Cleanup)
	return env
}

// Cleanup drains the dispatcher and releases every resource
func (e *TestEnvironment) Cleanup() {
	if e.stopped {
		return
	}
	e.stopped = true

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := e.Dispatcher.Shutdown(ctx); err != nil {
		e.t.Logf("dispatcher shutdown: %v", err)
	}
	e.Orchestrator.Contacts().Wait()
	e.Gateway.Close()
	if err := e.DB.Close(); err != nil {
		e.t.Logf("database close: %v", err)
	}
}

// Submit posts a form fill through intake and fails the test on error
func (e *TestEnvironment) Submit(pageID int64, fields map[string]string) *service.SubmissionReceipt {
	e.t.Helper()
	receipt, err := e.Intake.Submit(context.Background(), service.SubmissionRequest{
		TenantID:      tenantID,
		LandingPageID: pageID,
		FormID:        "hero",
		Fields:        fields,
		Metadata:      models.SubmissionMetadata{IP: "203.0.113.10", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"},
	})
	require.NoError(e.t, err)
	return receipt
}

// AwaitDispatch waits for the run of one submission to complete
func (e *TestEnvironment) AwaitDispatch(submissionID string) *service.DispatchSummary {
	e.t.Helper()
	deadline := time.After(dispatchTimeout)
	for {
		select {
		case s := <-e.completed:
			if s.SubmissionID == submissionID {
				e.Orchestrator.Contacts().Wait()
				return s
			}
		case <-deadline:
			e.t.Fatalf("dispatch of %s did not complete", submissionID)
			return nil
		}
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
