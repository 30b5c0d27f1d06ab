package types

import (
	"encoding/base64"
	"time"
)

// SessionStatus is the state WAHA reports for a session
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "STARTING"
	SessionStatusScanQR   SessionStatus = "SCAN_QR_CODE"
	SessionStatusWorking  SessionStatus = "WORKING"
	SessionStatusStopped  SessionStatus = "STOPPED"
	SessionStatusFailed   SessionStatus = "FAILED"
)

// SessionInfo describes a gateway session
type SessionInfo struct {
	Name   string        `json:"name"`
	Status SessionStatus `json:"status"`
}

// IsWorking reports whether the session can send messages
func (s *SessionInfo) IsWorking() bool {
	return s != nil && s.Status == SessionStatusWorking
}

// NumberStatus is the answer to a check-exists lookup
type NumberStatus struct {
	NumberExists bool   `json:"numberExists"`
	ChatID       string `json:"chatId"`
}

// SendMessageRequest represents the request for sending a text message
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

// FileData represents file information for media messages
type FileData struct {
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// NewFileData base64-encodes raw bytes for a media message
func NewFileData(data []byte, filename, mimetype string) FileData {
	return FileData{
		Mimetype: mimetype,
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// MediaMessageRequest represents the request for sending media messages
type MediaMessageRequest struct {
	ChatID  string   `json:"chatId"`
	File    FileData `json:"file"`
	Caption string   `json:"caption,omitempty"`
	Session string   `json:"session"`
}

// PresenceRequest sets the typing indicator shown to a chat
type PresenceRequest struct {
	ChatID   string `json:"chatId"`
	Presence string `json:"presence"`
}

// SendMessageResponse represents the response from send message operations
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// WAHAMessageID is the id object WAHA attaches to sent messages
type WAHAMessageID struct {
	FromMe     bool   `json:"fromMe"`
	Remote     string `json:"remote"`
	ID         string `json:"id"`
	Serialized string `json:"_serialized"`
}

// WAHAMessageResponse represents the actual WAHA API response format
type WAHAMessageResponse struct {
	Data *struct {
		ID *WAHAMessageID `json:"id"`
	} `json:"_data"`
	ID *WAHAMessageID `json:"id"`
}

// MessageID picks the serialized id from whichever field WAHA filled
func (r *WAHAMessageResponse) MessageID() string {
	for _, id := range []*WAHAMessageID{r.ID, r.dataID()} {
		if id == nil {
			continue
		}
		if id.Serialized != "" {
			return id.Serialized
		}
		if id.ID != "" {
			return id.ID
		}
	}
	return ""
}

func (r *WAHAMessageResponse) dataID() *WAHAMessageID {
	if r.Data == nil {
		return nil
	}
	return r.Data.ID
}

// WAHAErrorResponse represents error responses from WAHA API
type WAHAErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ProfilePicture is the profile picture lookup result
type ProfilePicture struct {
	URL string `json:"profilePictureURL"`
}

// Group represents a WhatsApp group from WAHA API
type Group struct {
	ID           string             `json:"id"`
	Subject      string             `json:"subject"`
	Description  string             `json:"description"`
	Participants []GroupParticipant `json:"participants"`
}

// GroupParticipant represents a participant in a WhatsApp group
type GroupParticipant struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
}

// InviteCode is the object form of the invite-code response
type InviteCode struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

// ClientConfig represents the configuration for the gateway client
type ClientConfig struct {
	BaseURL             string        `json:"base_url" validate:"required,url"`
	APIKey              string        `json:"api_key"`
	Timeout             time.Duration `json:"timeout"`
	BreakerMaxFailures  uint32        `json:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `json:"breaker_reset_timeout"`
}
