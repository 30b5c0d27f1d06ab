package types

const (
	APIBase                = "/api"
	EndpointSendText       = "/sendText"
	EndpointSendImage      = "/sendImage"
	EndpointSessions       = "/sessions"
	EndpointCheckExists    = "/contacts/check-exists"
	EndpointProfilePicture = "/contacts/profile-picture"

	// Session scoped endpoints, formatted with the session name
	EndpointPresenceFmt   = "/%s/presence"
	EndpointGroupFmt      = "/%s/groups/%s"
	EndpointInviteCodeFmt = "/%s/groups/%s/invite-code"
)

// InviteLinkPrefix turns a bare invite code into a joinable link
const InviteLinkPrefix = "https://chat.whatsapp.com/"
