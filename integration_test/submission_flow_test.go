package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadflow/internal/errors"
	"leadflow/internal/models"
	"leadflow/internal/service"
	"leadflow/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionFlow_FullDispatch(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()
	ctx := context.Background()

	receipt := env.Submit(catalog.FullPage.ID, leadFields())
	require.True(t, receipt.Queued)

	summary := env.AwaitDispatch(receipt.ID)
	require.NoError(t, summary.Err)
	assert.Equal(t, service.StageCompleted, summary.Stage)
	assert.True(t, summary.TicketCreated)
	assert.Zero(t, summary.StepFailures())
	require.Len(t, summary.Steps, 3)
	for _, step := range summary.Steps {
		assert.True(t, step.OK, "step %s", step.Step)
	}

	sub, err := env.DB.GetSubmission(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, sub.Processed)

	lead, err := env.DB.GetContactByNumber(ctx, tenantID, leadE164)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "Ana Souza", lead.Name)
	assert.Equal(t, "ana@example.com", lead.Email)
	assert.Equal(t, "https://pps.example.test/"+leadDigits+".jpg", lead.ProfilePicURL)
	assert.Contains(t, lead.ExtraFields, models.ExtraField{Name: "city", Value: "Campinas"})

	added, err := env.DB.AttachTags(ctx, tenantID, lead.ID, catalog.TagIDs)
	require.NoError(t, err)
	assert.Zero(t, added, "tags were already attached by the run")

	tickets, err := env.DB.ListTicketsByContact(ctx, tenantID, lead.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, summary.TicketID, tickets[0].ID)

	messages, err := env.DB.ListMessagesByTicket(ctx, tickets[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.MediaKindImage, messages[0].MediaKind)
	assert.Equal(t, "Thanks Ana, we got your details!", messages[0].Body)
	assert.Equal(t, "Join the launch group, Ana Souza: https://chat.whatsapp.com/CODEB", messages[1].Body)
	for _, m := range messages {
		assert.Equal(t, models.MessageStatusSent, m.Status)
		assert.NotEmpty(t, m.GatewayMessageID)
		assert.True(t, m.FromMe)
	}

	sent := env.Gateway.SentTo(leadChatID)
	require.Len(t, sent, 2)
	assert.True(t, sent[0].Image)
	assert.Equal(t, sessionName, sent[0].Session)
	assert.False(t, sent[1].Image)

	admin := env.Gateway.SentTo(adminChatID)
	require.Len(t, admin, 1)
	assert.Contains(t, admin[0].Text, "New lead from Spring Launch")
	assert.Contains(t, admin[0].Text, "Name: Ana Souza")
	assert.Contains(t, admin[0].Text, "WhatsApp: "+leadE164)
	assert.Contains(t, admin[0].Text, "city: Campinas")

	adminContact, err := env.DB.GetContactByNumber(ctx, tenantID, adminE164)
	require.NoError(t, err)
	require.NotNil(t, adminContact)
	adminTickets, err := env.DB.ListTicketsByContact(ctx, tenantID, adminContact.ID)
	require.NoError(t, err)
	assert.Len(t, adminTickets, 1)

	full, err := env.DB.GetGroup(ctx, tenantID, catalog.Connection.ID, catalog.Groups[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, full.ParticipantCount, "refreshed from the gateway")
}

func TestSubmissionFlow_RepeatLeadReusesThread(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()
	ctx := context.Background()

	first := env.AwaitDispatch(env.Submit(catalog.PlainPage.ID, leadFields()).ID)
	second := env.AwaitDispatch(env.Submit(catalog.PlainPage.ID, leadFields()).ID)

	assert.True(t, first.TicketCreated)
	assert.False(t, second.TicketCreated)
	assert.Equal(t, first.TicketID, second.TicketID)
	assert.Equal(t, first.ContactID, second.ContactID)

	tickets, err := env.DB.ListTicketsByContact(ctx, tenantID, first.ContactID)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)

	messages, err := env.DB.ListMessagesByTicket(ctx, first.TicketID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Len(t, env.Gateway.SentTo(adminChatID), 0, "notification is off for this page")
}

func TestSubmissionFlow_LandingPageCap(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()

	for i := 0; i < catalog.PlainPage.SubmissionLimit; i++ {
		env.AwaitDispatch(env.Submit(catalog.PlainPage.ID, leadFields()).ID)
	}

	_, err := env.Intake.Submit(context.Background(), service.SubmissionRequest{
		TenantID:      tenantID,
		LandingPageID: catalog.PlainPage.ID,
		Fields:        leadFields(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSubmissionLimit, errors.GetCode(err))
}

func TestSubmissionFlow_ConcurrentSubmitsRespectCap(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	env.SeedCatalog()
	ctx := context.Background()

	page := &models.LandingPage{
		TenantID:        tenantID,
		Title:           "Flash Sale",
		Slug:            "flash-sale",
		SubmissionLimit: 1,
		Dispatch: models.DispatchConfig{
			Confirmation: models.ConfirmationConfig{Enabled: true, Message: "You are in, {{name}}."},
		},
	}
	require.NoError(t, env.DB.SaveLandingPage(ctx, page))

	const submitters = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []string
		codes    = make(map[errors.ErrorCode]int)
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := env.Intake.Submit(ctx, service.SubmissionRequest{
				TenantID:      tenantID,
				LandingPageID: page.ID,
				FormID:        "hero",
				Fields:        leadFields(),
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				codes[errors.GetCode(err)]++
				return
			}
			accepted = append(accepted, receipt.ID)
		}()
	}
	wg.Wait()

	require.Len(t, accepted, 1)
	assert.Equal(t, map[errors.ErrorCode]int{errors.ErrCodeSubmissionLimit: submitters - 1}, codes)
	env.AwaitDispatch(accepted[0])
}

func TestSubmissionFlow_UnregisteredNumber(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()
	env.Gateway.Unregister(leadDigits)
	ctx := context.Background()

	receipt := env.Submit(catalog.FullPage.ID, leadFields())
	summary := env.AwaitDispatch(receipt.ID)

	assert.True(t, summary.Failed())
	assert.Equal(t, service.StageReceived, summary.FailedStage)
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(summary.Err))

	sub, err := env.DB.GetSubmission(ctx, receipt.ID)
	require.NoError(t, err)
	assert.False(t, sub.Processed)
	assert.Equal(t, 1, sub.DispatchAttempts)
	assert.Equal(t, string(errors.ErrCodeNotFound), sub.LastErrorCode)

	contact, err := env.DB.GetContactByNumber(ctx, tenantID, leadE164)
	require.NoError(t, err)
	assert.Nil(t, contact)
	assert.Empty(t, env.Gateway.Sent())
}

func TestSubmissionFlow_FailedSendsStillComplete(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()
	env.Gateway.FailSends(true)
	ctx := context.Background()

	receipt := env.Submit(catalog.PlainPage.ID, leadFields())
	summary := env.AwaitDispatch(receipt.ID)

	assert.Equal(t, service.StageCompleted, summary.Stage)
	assert.Equal(t, 1, summary.StepFailures())

	sub, err := env.DB.GetSubmission(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, sub.Processed, "steps after the thread never block completion")

	messages, err := env.DB.ListMessagesByTicket(ctx, summary.TicketID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageStatusFailed, messages[0].Status)
}

func TestSubmissionFlow_ReplayAfterGatewayOutage(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()
	ctx := context.Background()

	env.Gateway.FailLookups(true)
	receipt := env.Submit(catalog.PlainPage.ID, leadFields())
	failed := env.AwaitDispatch(receipt.ID)
	require.True(t, failed.Failed())
	assert.Equal(t, errors.ErrCodeGatewayUnavailable, errors.GetCode(failed.Err))

	env.Gateway.FailLookups(false)
	replay := service.NewReplayScheduler(env.DB, env.Dispatcher, models.ReplayConfig{
		MinAge:      time.Nanosecond,
		MaxAttempts: 3,
	}, quietLogger())
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, replay.RunOnce(ctx))

	summary := env.AwaitDispatch(receipt.ID)
	assert.Equal(t, service.StageCompleted, summary.Stage)

	sub, err := env.DB.GetSubmission(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, sub.Processed)
	assert.Zero(t, replay.RunOnce(ctx), "processed submissions are not replayed")
}

func TestSubmissionFlow_SessionMonitorDisconnects(t *testing.T) {
	env := NewTestEnvironment(t, EnvironmentOptions{})
	catalog := env.SeedCatalog()
	ctx := context.Background()

	env.Gateway.SetSession(sessionName, types.SessionStatusScanQR)
	assert.Equal(t, 1, env.Monitor.Check(ctx))

	conn, err := env.DB.GetConnection(ctx, catalog.Connection.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusQRCode, conn.Status)

	receipt := env.Submit(catalog.PlainPage.ID, leadFields())
	summary := env.AwaitDispatch(receipt.ID)
	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(summary.Err))

	env.Gateway.SetSession(sessionName, types.SessionStatusWorking)
	assert.Equal(t, 1, env.Monitor.Check(ctx))
	conn, err = env.DB.GetConnection(ctx, catalog.Connection.ID)
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
}
