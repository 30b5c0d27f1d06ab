package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"leadflow/pkg/whatsapp/types"

	"github.com/gorilla/mux"
)

// SentMessage is one send the fake gateway accepted
type SentMessage struct {
	Session string
	ChatID  string
	Text    string
	Image   bool
}

// FakeGateway is an in-process WAHA stand-in. Every number is registered
// unless marked with Unregister.
type FakeGateway struct {
	server *httptest.Server

	mu           sync.Mutex
	sessions     []types.SessionInfo
	unregistered map[string]bool
	participants map[string]int
	inviteCodes  map[string]string
	sent         []SentMessage
	failSends    bool
	failLookups  bool
	nextID       int
}

// NewFakeGateway starts the fake on a random local port
func NewFakeGateway() *FakeGateway {
	g := &FakeGateway{
		unregistered: make(map[string]bool),
		participants: make(map[string]int),
		inviteCodes:  make(map[string]string),
	}

	r := mux.NewRouter()
	api := r.PathPrefix(types.APIBase).Subrouter()
	api.HandleFunc(types.EndpointSessions, g.handleSessions).Methods(http.MethodGet)
	api.HandleFunc(types.EndpointCheckExists, g.handleCheckExists).Methods(http.MethodGet)
	api.HandleFunc(types.EndpointProfilePicture, g.handleProfilePicture).Methods(http.MethodGet)
	api.HandleFunc(types.EndpointSendText, g.handleSend(false)).Methods(http.MethodPost)
	api.HandleFunc(types.EndpointSendImage, g.handleSend(true)).Methods(http.MethodPost)
	api.HandleFunc("/{session}/presence", g.handlePresence).Methods(http.MethodPost)
	api.HandleFunc("/{session}/groups/{group}/invite-code", g.handleInviteCode).Methods(http.MethodGet)
	api.HandleFunc("/{session}/groups/{group}", g.handleGroup).Methods(http.MethodGet)

	g.server = httptest.NewServer(r)
	return g
}

// URL is the base URL to configure the client with
func (g *FakeGateway) URL() string {
	return g.server.URL
}

// Close stops the server
func (g *FakeGateway) Close() {
	g.server.Close()
}

// SetSession registers or updates a gateway session
func (g *FakeGateway) SetSession(name string, status types.SessionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.sessions {
		if g.sessions[i].Name == name {
			g.sessions[i].Status = status
			return
		}
	}
	g.sessions = append(g.sessions, types.SessionInfo{Name: name, Status: status})
}

// Unregister makes check-exists report digits as not on WhatsApp
func (g *FakeGateway) Unregister(digits string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unregistered[digits] = true
}

// AddGroup registers a gateway group with its member count and invite code
func (g *FakeGateway) AddGroup(groupID string, participants int, inviteCode string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.participants[groupID] = participants
	g.inviteCodes[groupID] = inviteCode
}

// FailSends makes every send answer 500
func (g *FakeGateway) FailSends(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSends = fail
}

// FailLookups makes check-exists answer 503
func (g *FakeGateway) FailLookups(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failLookups = fail
}

// Sent returns a copy of the accepted sends in arrival order
func (g *FakeGateway) Sent() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SentMessage, len(g.sent))
	copy(out, g.sent)
	return out
}

// SentTo returns the accepted sends for one chat
func (g *FakeGateway) SentTo(chatID string) []SentMessage {
	var out []SentMessage
	for _, m := range g.Sent() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (g *FakeGateway) handleSessions(w http.ResponseWriter, _ *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	writeJSON(w, http.StatusOK, g.sessions)
}

func (g *FakeGateway) handleCheckExists(w http.ResponseWriter, r *http.Request) {
	digits := r.URL.Query().Get("phone")

	g.mu.Lock()
	missing := g.unregistered[digits]
	down := g.failLookups
	g.mu.Unlock()

	if down {
		writeJSON(w, http.StatusServiceUnavailable, types.WAHAErrorResponse{Message: "gateway restarting"})
		return
	}
	if missing {
		writeJSON(w, http.StatusOK, types.NumberStatus{NumberExists: false})
		return
	}
	writeJSON(w, http.StatusOK, types.NumberStatus{NumberExists: true, ChatID: digits + "@c.us"})
}

func (g *FakeGateway) handleProfilePicture(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("contactId")
	writeJSON(w, http.StatusOK, types.ProfilePicture{URL: "https://pps.example.test/" + strings.TrimSuffix(chatID, "@c.us") + ".jpg"})
}

func (g *FakeGateway) handlePresence(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusCreated)
}

func (g *FakeGateway) handleSend(image bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChatID  string `json:"chatId"`
			Text    string `json:"text"`
			Caption string `json:"caption"`
			Session string `json:"session"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, types.WAHAErrorResponse{Message: err.Error()})
			return
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		if g.failSends {
			writeJSON(w, http.StatusInternalServerError, types.WAHAErrorResponse{Message: "session is not ready"})
			return
		}

		text := req.Text
		if image {
			text = req.Caption
		}
		g.sent = append(g.sent, SentMessage{Session: req.Session, ChatID: req.ChatID, Text: text, Image: image})
		g.nextID++
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id": types.WAHAMessageID{
				FromMe:     true,
				Remote:     req.ChatID,
				ID:         fmt.Sprintf("MSG%04d", g.nextID),
				Serialized: fmt.Sprintf("true_%s_MSG%04d", req.ChatID, g.nextID),
			},
		})
	}
}

func (g *FakeGateway) handleGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group"]

	g.mu.Lock()
	count, ok := g.participants[groupID]
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, types.WAHAErrorResponse{Message: "group not found"})
		return
	}
	group := types.Group{ID: groupID, Subject: groupID}
	for i := 0; i < count; i++ {
		group.Participants = append(group.Participants, types.GroupParticipant{ID: fmt.Sprintf("55119000%05d@c.us", i)})
	}
	writeJSON(w, http.StatusOK, group)
}

func (g *FakeGateway) handleInviteCode(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group"]

	g.mu.Lock()
	code, ok := g.inviteCodes[groupID]
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, types.WAHAErrorResponse{Message: "group not found"})
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
