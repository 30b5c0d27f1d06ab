package types

import "context"

// Session is one logged-in WhatsApp account on the gateway.
type Session interface {
	Name() string
	CheckExists(ctx context.Context, phoneDigits string) (*NumberStatus, error)
	SendText(ctx context.Context, chatID, text string) (*SendMessageResponse, error)
	SendImage(ctx context.Context, chatID string, file FileData, caption string) (*SendMessageResponse, error)
	SetPresence(ctx context.Context, chatID, presence string) error
	GetProfilePicture(ctx context.Context, chatID string) (string, error)
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GetGroupInviteLink(ctx context.Context, groupID string) (string, error)
	Status(ctx context.Context) (*SessionInfo, error)
}

// Gateway hands out session handles and lists the sessions it hosts.
type Gateway interface {
	Session(name string) Session
	ListSessions(ctx context.Context) ([]SessionInfo, error)
}
