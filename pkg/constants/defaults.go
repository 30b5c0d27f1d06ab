package constants

// Default values used by the gateway client
const (
	DefaultHTTPTimeoutSec   = 30
	DefaultGatewayRetryMax  = 3
	MaxSessionNameLength    = 64
	MinPhoneNumberLength    = 8
	BytesPerMegabyte        = 1024 * 1024
	MimeDetectionBufferSize = 512
)

// Presence states accepted by the gateway
const (
	PresenceTyping    = "typing"
	PresencePaused    = "paused"
	PresenceAvailable = "online"
)

// Timing constants used by the gateway client
const (
	TypingDurationPerCharMs = 50
	MaxTypingDurationSec    = 3
)

// Chat id suffixes used by the WAHA gateway
const (
	ContactChatSuffix = "@c.us"
	GroupChatSuffix   = "@g.us"
)
