package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"leadflow/pkg/constants"
	"leadflow/pkg/whatsapp/types"
)

type session struct {
	client *WhatsAppClient
	name   string
}

func (s *session) Name() string {
	return s.name
}

func (s *session) CheckExists(ctx context.Context, phoneDigits string) (*types.NumberStatus, error) {
	query := url.Values{}
	query.Set("phone", phoneDigits)
	query.Set("session", s.name)

	var status types.NumberStatus
	if err := s.client.do(ctx, "check_exists", http.MethodGet, types.APIBase+types.EndpointCheckExists, query, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *session) SendText(ctx context.Context, chatID, text string) (*types.SendMessageResponse, error) {
	payload := types.SendMessageRequest{
		ChatID:  chatID,
		Text:    text,
		Session: s.name,
	}
	return s.send(ctx, "send_text", types.APIBase+types.EndpointSendText, payload)
}

func (s *session) SendImage(ctx context.Context, chatID string, file types.FileData, caption string) (*types.SendMessageResponse, error) {
	payload := types.MediaMessageRequest{
		ChatID:  chatID,
		File:    file,
		Caption: caption,
		Session: s.name,
	}
	return s.send(ctx, "send_image", types.APIBase+types.EndpointSendImage, payload)
}

func (s *session) send(ctx context.Context, op, path string, payload interface{}) (*types.SendMessageResponse, error) {
	var wahaResp types.WAHAMessageResponse
	if err := s.client.do(ctx, op, http.MethodPost, path, nil, payload, &wahaResp); err != nil {
		return nil, err
	}
	return &types.SendMessageResponse{
		MessageID: wahaResp.MessageID(),
		Status:    "sent",
	}, nil
}

func (s *session) SetPresence(ctx context.Context, chatID, presence string) error {
	switch presence {
	case constants.PresenceTyping, constants.PresencePaused, constants.PresenceAvailable:
	default:
		return fmt.Errorf("unsupported presence %q", presence)
	}
	path := types.APIBase + fmt.Sprintf(types.EndpointPresenceFmt, url.PathEscape(s.name))
	return s.client.do(ctx, "set_presence", http.MethodPost, path, nil, types.PresenceRequest{
		ChatID:   chatID,
		Presence: presence,
	}, nil)
}

// GetProfilePicture returns an empty URL when the contact hides its picture
func (s *session) GetProfilePicture(ctx context.Context, chatID string) (string, error) {
	query := url.Values{}
	query.Set("contactId", chatID)
	query.Set("session", s.name)

	var picture types.ProfilePicture
	if err := s.client.do(ctx, "profile_picture", http.MethodGet, types.APIBase+types.EndpointProfilePicture, query, nil, &picture); err != nil {
		return "", err
	}
	return picture.URL, nil
}

func (s *session) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	path := types.APIBase + fmt.Sprintf(types.EndpointGroupFmt, url.PathEscape(s.name), url.PathEscape(groupID))
	var group types.Group
	if err := s.client.do(ctx, "get_group", http.MethodGet, path, nil, nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// GetGroupInviteLink accepts the bare string, object and plain-text forms of
// the invite-code answer and always returns a full link.
func (s *session) GetGroupInviteLink(ctx context.Context, groupID string) (string, error) {
	path := types.APIBase + fmt.Sprintf(types.EndpointInviteCodeFmt, url.PathEscape(s.name), url.PathEscape(groupID))
	var raw []byte
	if err := s.client.do(ctx, "invite_link", http.MethodGet, path, nil, nil, &raw); err != nil {
		return "", err
	}

	code := strings.TrimSpace(string(raw))
	var asString string
	var asObject types.InviteCode
	switch {
	case json.Unmarshal(raw, &asString) == nil:
		code = asString
	case json.Unmarshal(raw, &asObject) == nil:
		if asObject.Link != "" {
			code = asObject.Link
		} else {
			code = asObject.Code
		}
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("gateway returned an empty invite code for %s", groupID)
	}
	if strings.HasPrefix(code, "http://") || strings.HasPrefix(code, "https://") {
		return code, nil
	}
	return types.InviteLinkPrefix + code, nil
}

func (s *session) Status(ctx context.Context) (*types.SessionInfo, error) {
	sessions, err := s.client.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Name == s.name {
			return &sessions[i], nil
		}
	}
	return &types.SessionInfo{Name: s.name, Status: types.SessionStatusStopped}, nil
}
