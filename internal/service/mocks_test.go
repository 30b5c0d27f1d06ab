package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"leadflow/internal/media"
	"leadflow/internal/models"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Mock gateway session driven by testify expectations
type mockSession struct {
	mock.Mock
}

func (m *mockSession) Name() string {
	return "default"
}

func (m *mockSession) CheckExists(ctx context.Context, phoneDigits string) (*types.NumberStatus, error) {
	args := m.Called(ctx, phoneDigits)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.NumberStatus), args.Error(1)
}

func (m *mockSession) SendText(ctx context.Context, chatID, text string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockSession) SendImage(ctx context.Context, chatID string, file types.FileData, caption string) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, file, caption)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageResponse), args.Error(1)
}

func (m *mockSession) SetPresence(ctx context.Context, chatID, presence string) error {
	args := m.Called(ctx, chatID, presence)
	return args.Error(0)
}

func (m *mockSession) GetProfilePicture(ctx context.Context, chatID string) (string, error) {
	args := m.Called(ctx, chatID)
	return args.String(0), args.Error(1)
}

func (m *mockSession) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *mockSession) GetGroupInviteLink(ctx context.Context, groupID string) (string, error) {
	args := m.Called(ctx, groupID)
	return args.String(0), args.Error(1)
}

func (m *mockSession) Status(ctx context.Context) (*types.SessionInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SessionInfo), args.Error(1)
}

// sentMessage is one message a fakeSession accepted or rejected
type sentMessage struct {
	ChatID string
	Body   string
	Image  bool
	Failed bool
}

// fakeSession is a scriptable in-memory gateway session safe for concurrent use
type fakeSession struct {
	mu sync.Mutex

	name         string
	unknown      map[string]bool
	checkErr     error
	sendImageErr error
	sendTextErr  error
	inviteLinks  map[string]string
	participants map[string]int
	pictureURL   string

	calls    int
	checked  []string
	sent     []sentMessage
	presence []string
}

func newFakeSession(name string) *fakeSession {
	return &fakeSession{
		name:         name,
		unknown:      make(map[string]bool),
		inviteLinks:  make(map[string]string),
		participants: make(map[string]int),
	}
}

func (f *fakeSession) Name() string { return f.name }

func (f *fakeSession) CheckExists(ctx context.Context, digits string) (*types.NumberStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.checked = append(f.checked, digits)
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	if f.unknown[digits] {
		return &types.NumberStatus{NumberExists: false}, nil
	}
	return &types.NumberStatus{NumberExists: true, ChatID: digits + "@c.us"}, nil
}

func (f *fakeSession) SendText(ctx context.Context, chatID, text string) (*types.SendMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.sendTextErr != nil {
		f.sent = append(f.sent, sentMessage{ChatID: chatID, Body: text, Failed: true})
		return nil, f.sendTextErr
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Body: text})
	return &types.SendMessageResponse{MessageID: fmt.Sprintf("msg-%d", len(f.sent)), Status: "sent"}, nil
}

func (f *fakeSession) SendImage(ctx context.Context, chatID string, file types.FileData, caption string) (*types.SendMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.sendImageErr != nil {
		f.sent = append(f.sent, sentMessage{ChatID: chatID, Body: caption, Image: true, Failed: true})
		return nil, f.sendImageErr
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Body: caption, Image: true})
	return &types.SendMessageResponse{MessageID: fmt.Sprintf("img-%d", len(f.sent)), Status: "sent"}, nil
}

func (f *fakeSession) SetPresence(ctx context.Context, chatID, presence string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.presence = append(f.presence, presence)
	return nil
}

func (f *fakeSession) GetProfilePicture(ctx context.Context, chatID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pictureURL, nil
}

func (f *fakeSession) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	n, ok := f.participants[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s unknown", groupID)
	}
	return &types.Group{ID: groupID, Participants: make([]types.GroupParticipant, n)}, nil
}

func (f *fakeSession) GetGroupInviteLink(ctx context.Context, groupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	link, ok := f.inviteLinks[groupID]
	if !ok {
		return "", fmt.Errorf("group %s unknown", groupID)
	}
	return link, nil
}

func (f *fakeSession) Status(ctx context.Context) (*types.SessionInfo, error) {
	return &types.SessionInfo{Name: f.name, Status: types.SessionStatusWorking}, nil
}

func (f *fakeSession) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSession) lookups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checked...)
}

func (f *fakeSession) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// fakeGateway hands out fakeSessions by name
type fakeGateway struct {
	sessions map[string]*fakeSession
	statuses []types.SessionInfo
	listErr  error
}

func (g *fakeGateway) Session(name string) types.Session {
	if s, ok := g.sessions[name]; ok {
		return s
	}
	return newFakeSession(name)
}

func (g *fakeGateway) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	return g.statuses, g.listErr
}

// fakeImages resolves references from a fixed table
type fakeImages struct {
	images map[string]*media.Image
}

func (f *fakeImages) Resolve(ctx context.Context, ref string, tenantID int64) *media.Image {
	return f.images[ref]
}

// fakeStore is an in-memory store covering every database interface of the package
type fakeStore struct {
	mu sync.Mutex

	submissions map[string]*models.Submission
	pages       map[int64]*models.LandingPage
	connections map[int64]*models.Connection
	contacts    map[string]*models.Contact
	tickets     []*models.Ticket
	trackings   []*models.TicketTracking
	messages    []*models.MessageRecord
	tagLinks    map[string]map[int64]bool
	groups      map[int64]*models.Group
	processed   map[string]int

	createSubmissionErr error
	ticketErr           error
	ticketDelay         time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[string]*models.Submission),
		pages:       make(map[int64]*models.LandingPage),
		connections: make(map[int64]*models.Connection),
		contacts:    make(map[string]*models.Contact),
		tagLinks:    make(map[string]map[int64]bool),
		groups:      make(map[int64]*models.Group),
		processed:   make(map[string]int),
	}
}

func (s *fakeStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) CreateSubmissionWithinLimits(ctx context.Context, sub *models.Submission, limits models.SubmissionLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createSubmissionErr != nil {
		return s.createSubmissionErr
	}

	pageCount, ipCount := 0, 0
	for _, existing := range s.submissions {
		if existing.LandingPageID == sub.LandingPageID {
			pageCount++
		}
		if sub.Metadata.IP != "" && existing.Metadata.IP == sub.Metadata.IP && !existing.CreatedAt.Before(limits.IPWindowStart) {
			ipCount++
		}
	}
	if limits.PerLandingPage > 0 && pageCount >= limits.PerLandingPage {
		return &models.LimitExceededError{Scope: models.LimitScopeLandingPage, Limit: limits.PerLandingPage}
	}
	if limits.PerIP > 0 && sub.Metadata.IP != "" && ipCount >= limits.PerIP {
		return &models.LimitExceededError{Scope: models.LimitScopeIP, Limit: limits.PerIP}
	}

	cp := *sub
	s.submissions[sub.ID] = &cp
	return nil
}

func (s *fakeStore) MarkSubmissionProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.submissions[id]; ok {
		sub.Processed = true
	}
	s.processed[id]++
	return nil
}

func (s *fakeStore) RecordDispatchFailure(ctx context.Context, id string, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.submissions[id]; ok && !sub.Processed {
		sub.DispatchAttempts++
		sub.LastErrorCode = code
	}
	return nil
}

func (s *fakeStore) ListReplayableSubmissions(ctx context.Context, olderThan time.Time, maxAttempts int, retryCodes []string, limit int) ([]*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	retry := make(map[string]bool, len(retryCodes))
	for _, c := range retryCodes {
		retry[c] = true
	}
	var out []*models.Submission
	for _, sub := range s.submissions {
		if sub.Processed || !sub.CreatedAt.Before(olderThan) || sub.DispatchAttempts >= maxAttempts {
			continue
		}
		if sub.DispatchAttempts > 0 && !retry[sub.LastErrorCode] {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetLandingPage(ctx context.Context, id int64) (*models.LandingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return nil, nil
	}
	cp := *page
	return &cp, nil
}

func (s *fakeStore) GetConnection(ctx context.Context, id int64) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return nil, nil
	}
	cp := *conn
	return &cp, nil
}

func (s *fakeStore) ListConnections(ctx context.Context, tenantID int64) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Connection
	for _, c := range s.connections {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ListAllConnections(ctx context.Context) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Connection
	for _, c := range s.connections {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateConnectionStatus(ctx context.Context, id int64, status models.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.connections[id]; ok {
		c.Status = status
	}
	return nil
}

func (s *fakeStore) UpsertContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.contacts {
		if existing.TenantID == c.TenantID && existing.CanonicalNumber == c.CanonicalNumber {
			if c.Name != "" {
				existing.Name = c.Name
			}
			if c.Email != "" {
				existing.Email = c.Email
			}
			cp := *existing
			return &cp, nil
		}
	}
	cp := *c
	s.contacts[c.ID] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) UpdateContactProfilePicture(ctx context.Context, contactID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[contactID]; ok {
		c.ProfilePicURL = url
	}
	return nil
}

func (s *fakeStore) FindRecentTicket(ctx context.Context, tenantID int64, contactID string, connectionID int64, since time.Time) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.tickets) - 1; i >= 0; i-- {
		t := s.tickets[i]
		if t.TenantID == tenantID && t.ContactID == contactID && t.ConnectionID == connectionID && !t.CreatedAt.Before(since) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateTicketWithTracking(ctx context.Context, t *models.Ticket, tr *models.TicketTracking) error {
	if s.ticketDelay > 0 {
		time.Sleep(s.ticketDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticketErr != nil {
		return s.ticketErr
	}
	tc := *t
	trc := *tr
	s.tickets = append(s.tickets, &tc)
	s.trackings = append(s.trackings, &trc)
	return nil
}

func (s *fakeStore) SaveMessage(ctx context.Context, m *models.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *fakeStore) AttachTags(ctx context.Context, tenantID int64, contactID string, tagIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, ok := s.tagLinks[contactID]
	if !ok {
		links = make(map[int64]bool)
		s.tagLinks[contactID] = links
	}
	added := 0
	for _, id := range tagIDs {
		if !links[id] {
			links[id] = true
			added++
		}
	}
	return added, nil
}

func (s *fakeStore) GetGroup(ctx context.Context, tenantID, connectionID, groupID int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.TenantID != tenantID || g.ConnectionID != connectionID {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *fakeStore) ListSeriesGroups(ctx context.Context, tenantID, connectionID, seriesID int64) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Group
	for _, g := range s.groups {
		if g.TenantID == tenantID && g.ConnectionID == connectionID && g.SeriesID != nil && *g.SeriesID == seriesID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeriesPosition < out[j].SeriesPosition })
	return out, nil
}

func (s *fakeStore) UpdateGroupParticipantCount(ctx context.Context, groupID int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupID]; ok {
		g.ParticipantCount = count
	}
	return nil
}

func (s *fakeStore) ticketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func (s *fakeStore) contactCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contacts)
}

func (s *fakeStore) contactByNumber(number string) *models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.CanonicalNumber == number {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (s *fakeStore) submission(id string) *models.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.submissions[id]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (s *fakeStore) messagesFor(ticketID string) []*models.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MessageRecord
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out
}

// recordingQueue captures enqueued submission ids
type recordingQueue struct {
	mu     sync.Mutex
	ids    []string
	reject bool
}

func (q *recordingQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

func (q *recordingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

func containsBody(msgs []sentMessage, fragment string) bool {
	for _, m := range msgs {
		if strings.Contains(m.Body, fragment) {
			return true
		}
	}
	return false
}
