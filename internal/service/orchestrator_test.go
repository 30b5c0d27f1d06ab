package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadflow/internal/errors"
	"leadflow/internal/media"
	"leadflow/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTenantID     int64 = 1
	testConnectionID int64 = 10
	testPageID       int64 = 100
	testSession            = "tenant-1"
)

type pipelineFixture struct {
	store   *fakeStore
	session *fakeSession
	images  *fakeImages
	orch    *Orchestrator
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	store := newFakeStore()
	store.connections[testConnectionID] = &models.Connection{
		ID:          testConnectionID,
		TenantID:    testTenantID,
		Name:        "Main",
		SessionName: testSession,
		Status:      models.ConnectionStatusConnected,
		IsDefault:   true,
	}
	store.pages[testPageID] = &models.LandingPage{
		ID:       testPageID,
		TenantID: testTenantID,
		Title:    "Spring Launch",
		Dispatch: models.DispatchConfig{
			Confirmation: models.ConfirmationConfig{Enabled: true, Message: "Thanks {{name}} for joining {{title}}"},
		},
	}

	session := newFakeSession(testSession)
	images := &fakeImages{images: map[string]*media.Image{}}
	gateway := &fakeGateway{sessions: map[string]*fakeSession{testSession: session}}

	orch := NewOrchestrator(store, gateway, images,
		models.PipelineConfig{DefaultCountryCode: "55", TicketDedupeWindow: time.Minute, Timezone: "UTC"},
		models.GatewayConfig{LookupTimeout: time.Second},
		quietLogger())
	t.Cleanup(orch.Contacts().Wait)

	return &pipelineFixture{store: store, session: session, images: images, orch: orch}
}

func (f *pipelineFixture) dispatch(mutate func(*models.DispatchConfig)) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	mutate(&f.store.pages[testPageID].Dispatch)
}

func (f *pipelineFixture) addSubmission(fields map[string]string) string {
	id := uuid.NewString()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.submissions[id] = &models.Submission{
		ID:            id,
		TenantID:      testTenantID,
		LandingPageID: testPageID,
		Fields:        fields,
		CreatedAt:     time.Now().UTC(),
	}
	return id
}

func stepByName(t *testing.T, summary *DispatchSummary, name string) StepOutcome {
	t.Helper()
	for _, o := range summary.Steps {
		if o.Step == name {
			return o
		}
	}
	t.Fatalf("step %s not in summary", name)
	return StepOutcome{}
}

func TestOrchestrator_NormalizesAndCreatesContact(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321", "city": "Campinas"})

	summary := f.orch.Run(context.Background(), id)

	require.NoError(t, summary.Err)
	assert.Equal(t, StageCompleted, summary.Stage)
	assert.Equal(t, []string{"5511987654321"}, f.session.lookups())

	contact := f.store.contactByNumber("+5511987654321")
	require.NotNil(t, contact)
	assert.Equal(t, "Ana", contact.Name)
	assert.Equal(t, []models.ExtraField{{Name: "city", Value: "Campinas"}}, contact.ExtraFields)

	assert.True(t, f.store.submission(id).Processed)
	assert.Equal(t, 1, f.store.ticketCount())

	msgs := f.session.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "5511987654321@c.us", msgs[0].ChatID)
	assert.Equal(t, "Thanks Ana for joining Spring Launch", msgs[0].Body)

	records := f.store.messagesFor(summary.TicketID)
	require.Len(t, records, 1)
	assert.True(t, records[0].FromMe)
	assert.Equal(t, models.MessageStatusSent, records[0].Status)
	assert.Equal(t, "msg-1", records[0].GatewayMessageID)
}

func TestOrchestrator_ConcurrentSameContactCreatesOneTicket(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.ticketDelay = 20 * time.Millisecond

	first := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})
	second := f.addSubmission(map[string]string{"name": "Ana", "number": "(11) 98765-4321"})

	var wg sync.WaitGroup
	summaries := make([]*DispatchSummary, 2)
	for i, id := range []string{first, second} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			summaries[i] = f.orch.Run(context.Background(), id)
		}(i, id)
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.ticketCount())
	assert.Equal(t, 1, f.store.contactCount())
	assert.Equal(t, summaries[0].TicketID, summaries[1].TicketID)
	assert.NotEqual(t, summaries[0].TicketCreated, summaries[1].TicketCreated)
	assert.True(t, f.store.submission(first).Processed)
	assert.True(t, f.store.submission(second).Processed)
}

func TestOrchestrator_MissingImageSendsText(t *testing.T) {
	f := newPipelineFixture(t)
	f.dispatch(func(d *models.DispatchConfig) {
		d.Confirmation.ImageURL = "/public/missing.png"
	})
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, stepByName(t, summary, StepConfirmation).OK)
	msgs := f.session.messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Image)
	assert.Equal(t, "Thanks Ana for joining Spring Launch", msgs[0].Body)

	records := f.store.messagesFor(summary.TicketID)
	require.Len(t, records, 1)
	assert.Equal(t, models.MediaKindNone, records[0].MediaKind)
}

func TestOrchestrator_ImageFailureFallsBackToTextWithSameCaption(t *testing.T) {
	f := newPipelineFixture(t)
	f.images.images["promo.png"] = &media.Image{Filename: "promo.png", MimeType: "image/png", Data: []byte{0x89, 0x50}}
	f.session.sendImageErr = fmt.Errorf("upload rejected")
	f.dispatch(func(d *models.DispatchConfig) {
		d.Confirmation.ImageURL = "promo.png"
	})
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, stepByName(t, summary, StepConfirmation).OK)
	msgs := f.session.messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Image)
	assert.True(t, msgs[0].Failed)
	assert.False(t, msgs[1].Image)
	assert.Equal(t, msgs[0].Body, msgs[1].Body)

	records := f.store.messagesFor(summary.TicketID)
	require.Len(t, records, 2)
	assert.Equal(t, models.MediaKindImage, records[0].MediaKind)
	assert.Equal(t, models.MessageStatusFailed, records[0].Status)
	assert.Equal(t, models.MediaKindNone, records[1].MediaKind)
	assert.Equal(t, models.MessageStatusSent, records[1].Status)
}

func TestOrchestrator_ImageSentWithCaption(t *testing.T) {
	f := newPipelineFixture(t)
	f.images.images["promo.png"] = &media.Image{Filename: "promo.png", MimeType: "image/png", Data: []byte{0x89, 0x50}}
	f.dispatch(func(d *models.DispatchConfig) {
		d.Confirmation.ImageURL = "promo.png"
	})
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	msgs := f.session.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Image)
	records := f.store.messagesFor(summary.TicketID)
	require.Len(t, records, 1)
	assert.Equal(t, "promo.png", records[0].MediaRef)
}

func TestOrchestrator_NoConnectedConnectionAborts(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.connections[testConnectionID].Status = models.ConnectionStatusDisconnected
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.Failed())
	assert.Equal(t, StageReceived, summary.FailedStage)
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(summary.Err))
	assert.Equal(t, 0, f.store.contactCount())
	assert.Equal(t, 0, f.store.ticketCount())
	assert.Equal(t, 0, f.session.callCount())

	sub := f.store.submission(id)
	assert.False(t, sub.Processed)
	assert.Equal(t, 1, sub.DispatchAttempts)
	assert.Equal(t, string(errors.ErrCodeConfiguration), sub.LastErrorCode)
}

func TestOrchestrator_ExplicitConnectionMustBeConnected(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.connections[11] = &models.Connection{ID: 11, TenantID: testTenantID, SessionName: "other", Status: models.ConnectionStatusQRCode}
	f.dispatch(func(d *models.DispatchConfig) { d.ConnectionID = 11 })
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(summary.Err))
}

func TestOrchestrator_ConnectionFromAnotherTenantIsRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.connections[12] = &models.Connection{ID: 12, TenantID: 2, SessionName: "foreign", Status: models.ConnectionStatusConnected}
	f.dispatch(func(d *models.DispatchConfig) { d.ConnectionID = 12 })
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetCode(summary.Err))
}

func TestOrchestrator_MissingGroupIsIsolated(t *testing.T) {
	f := newPipelineFixture(t)
	f.dispatch(func(d *models.DispatchConfig) {
		d.Group = models.GroupInviteConfig{InviteGroupID: 55, Message: "Join {{link}}"}
		d.Notification = models.NotificationConfig{Enabled: true, Number: "11 91234-5678"}
	})
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321", "email": "ana@example.com"})

	summary := f.orch.Run(context.Background(), id)

	require.Len(t, summary.Steps, 3)
	assert.True(t, stepByName(t, summary, StepConfirmation).OK)

	group := stepByName(t, summary, StepGroupInvite)
	assert.False(t, group.OK)
	assert.False(t, group.Skipped)
	assert.Equal(t, errors.ErrCodeStepFailure, errors.GetCode(group.Err))

	assert.True(t, stepByName(t, summary, StepAdminNotify).OK)
	assert.Equal(t, 1, summary.StepFailures())
	assert.True(t, f.store.submission(id).Processed)

	admin := f.store.contactByNumber("+5511912345678")
	require.NotNil(t, admin)

	var adminMsg *sentMessage
	for _, m := range f.session.messages() {
		if m.ChatID == "5511912345678@c.us" {
			m := m
			adminMsg = &m
		}
	}
	require.NotNil(t, adminMsg)
	assert.Contains(t, adminMsg.Body, "New lead from Spring Launch")
	assert.Contains(t, adminMsg.Body, "Name: Ana")
	assert.Contains(t, adminMsg.Body, "WhatsApp: +5511987654321")
	assert.Contains(t, adminMsg.Body, "Email: ana@example.com")
	assert.Equal(t, 2, f.store.ticketCount(), "admin notification uses its own thread")
}

func TestOrchestrator_GroupInviteAppendsLink(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.groups[55] = &models.Group{ID: 55, TenantID: testTenantID, ConnectionID: testConnectionID, GatewayGroupID: "120363@g.us"}
	f.session.inviteLinks["120363@g.us"] = "https://chat.whatsapp.com/AbCd"
	f.dispatch(func(d *models.DispatchConfig) {
		d.Confirmation.Enabled = false
		d.Group = models.GroupInviteConfig{InviteGroupID: 55, Message: "Welcome {{first_name}}!"}
	})
	id := f.addSubmission(map[string]string{"name": "Ana Souza", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, stepByName(t, summary, StepConfirmation).Skipped)
	assert.True(t, stepByName(t, summary, StepGroupInvite).OK)
	msgs := f.session.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Welcome Ana!\n\nhttps://chat.whatsapp.com/AbCd", msgs[0].Body)
}

func TestOrchestrator_GroupSeriesUsesGroupWithCapacity(t *testing.T) {
	f := newPipelineFixture(t)
	series := int64(7)
	f.store.groups[1] = &models.Group{ID: 1, TenantID: testTenantID, ConnectionID: testConnectionID, GatewayGroupID: "g1@g.us", SeriesID: &series, SeriesPosition: 1, Capacity: 2}
	f.store.groups[2] = &models.Group{ID: 2, TenantID: testTenantID, ConnectionID: testConnectionID, GatewayGroupID: "g2@g.us", SeriesID: &series, SeriesPosition: 2, Capacity: 5}
	f.session.participants["g1@g.us"] = 2
	f.session.participants["g2@g.us"] = 1
	f.session.inviteLinks["g1@g.us"] = "https://chat.whatsapp.com/one"
	f.session.inviteLinks["g2@g.us"] = "https://chat.whatsapp.com/two"
	f.dispatch(func(d *models.DispatchConfig) {
		d.Confirmation.Enabled = false
		d.Group = models.GroupInviteConfig{ManagedGroupSeriesID: series, Message: "Join: {{link}}"}
	})
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, stepByName(t, summary, StepGroupInvite).OK)
	assert.True(t, containsBody(f.session.messages(), "https://chat.whatsapp.com/two"))
	assert.Equal(t, 2, f.store.groups[1].ParticipantCount)
}

func TestOrchestrator_UnknownNumberIsTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	f.session.unknown["5511987654321"] = true
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(summary.Err))
	assert.Equal(t, 0, f.store.contactCount())
	assert.False(t, f.store.submission(id).Processed)
	assert.Equal(t, string(errors.ErrCodeNotFound), f.store.submission(id).LastErrorCode)
}

func TestOrchestrator_InvalidPhoneAborts(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "12-34"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeInvalidPhone, errors.GetCode(summary.Err))
	assert.Equal(t, 0, f.session.callCount())
}

func TestOrchestrator_GatewayUnavailableIsRetryable(t *testing.T) {
	f := newPipelineFixture(t)
	f.session.checkErr = fmt.Errorf("connection refused")
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeGatewayUnavailable, errors.GetCode(summary.Err))
	assert.True(t, errors.IsRetryable(summary.Err))
	assert.Equal(t, string(errors.ErrCodeGatewayUnavailable), f.store.submission(id).LastErrorCode)
}

func TestOrchestrator_AllStepsFailingStillMarksProcessed(t *testing.T) {
	f := newPipelineFixture(t)
	f.session.sendTextErr = fmt.Errorf("gateway down")
	f.dispatch(func(d *models.DispatchConfig) {
		d.Notification = models.NotificationConfig{Enabled: true, Number: "11912345678"}
	})
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	assert.False(t, summary.Failed())
	assert.Equal(t, StageCompleted, summary.Stage)
	assert.Equal(t, 2, summary.StepFailures())
	assert.True(t, f.store.submission(id).Processed)

	records := f.store.messagesFor(summary.TicketID)
	require.Len(t, records, 1)
	assert.Equal(t, models.MessageStatusFailed, records[0].Status)
}

func TestOrchestrator_AlreadyProcessedIsSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})
	f.store.submissions[id].Processed = true

	summary := f.orch.Run(context.Background(), id)

	assert.True(t, summary.AlreadyProcessed)
	assert.Equal(t, 0, f.session.callCount())
	assert.Equal(t, 0, f.store.processed[id])
}

func TestOrchestrator_UnknownSubmission(t *testing.T) {
	f := newPipelineFixture(t)

	summary := f.orch.Run(context.Background(), "does-not-exist")

	assert.True(t, summary.Failed())
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(summary.Err))
}

func TestOrchestrator_AppliesContactTags(t *testing.T) {
	f := newPipelineFixture(t)
	f.dispatch(func(d *models.DispatchConfig) { d.ContactTags = []int64{3, 4, 3} })
	id := f.addSubmission(map[string]string{"name": "Ana", "number": "11987654321"})

	summary := f.orch.Run(context.Background(), id)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Len(t, f.store.tagLinks[summary.ContactID], 2)
}

func TestOrchestrator_PageCountryCodeOverridesDefault(t *testing.T) {
	f := newPipelineFixture(t)
	f.dispatch(func(d *models.DispatchConfig) { d.CountryCode = "351" })
	id := f.addSubmission(map[string]string{"name": "Rui", "number": "912345678"})

	f.orch.Run(context.Background(), id)

	assert.Equal(t, []string{"351912345678"}, f.session.lookups())
}
