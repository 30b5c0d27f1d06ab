package constants

// Default server configuration values
const (
	DefaultServerPort            = 8080
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxRequestBodyBytes   = 64 * 1024
	ServerErrorChannelSize       = 1
)

// Default pipeline configuration values
const (
	DefaultCountryCode              = "55"
	DefaultStepDelayMs              = 2000
	DefaultWorkers                  = 4
	DefaultQueueSize                = 256
	DefaultTicketDedupeWindowSec    = 60
	DefaultTimezone                 = "UTC"
	DefaultProfilePictureTimeoutSec = 10
	DefaultBookkeepingTimeoutSec    = 10
)

// Default gateway configuration values
const (
	DefaultGatewayTimeoutSec        = 30
	DefaultGatewayLookupTimeoutSec  = 10
	DefaultPresenceDelayMs          = 1500
	DefaultSessionHealthCheckSec    = 30
	DefaultSessionStartupTimeoutSec = 120
)

// Default media configuration values
const (
	DefaultPublicRoot   = "./public"
	DefaultPublicPrefix = "/public/"
	DefaultMaxImageMB   = 5
)

// DefaultImageExtensions lists the image types attached to outgoing messages
var DefaultImageExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}

// Default intake limits
const (
	DefaultMaxPerIPPerHour  = 20
	DefaultMaxFieldLength   = 2048
	DefaultMaxFieldsPerForm = 50
)

// Default replay scheduler values
const (
	DefaultReplayIntervalSec = 60
	DefaultReplayMinAgeSec   = 30
	DefaultReplayMaxAttempts = 5
	DefaultReplayBatchSize   = 50
)

// Default database values
const (
	DefaultDatabasePath          = "leadflow.db"
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)
