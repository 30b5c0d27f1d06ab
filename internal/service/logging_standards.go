package service

// Logging Standards for leadflow
//
// Standard field names shared by every service. Use these exact names so
// that log queries work across intake, dispatch and background jobs.
const (
	// Core identifiers
	LogFieldTenantID      = "tenant_id"
	LogFieldSubmissionID  = "submission_id"
	LogFieldLandingPageID = "landing_page_id"
	LogFieldContactID     = "contact_id"
	LogFieldTicketID      = "ticket_id"
	LogFieldConnectionID  = "connection_id"
	LogFieldSession       = "session"
	LogFieldGroupID       = "group_id"

	// Gateway addresses, masked unless verbose
	LogFieldPhone     = "phone"
	LogFieldChatID    = "chat_id"
	LogFieldMessageID = "message_id"

	// Pipeline progress
	LogFieldStage     = "stage"
	LogFieldStep      = "step"
	LogFieldOutcome   = "outcome"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldAttempt  = "attempt"

	// HTTP
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "size_bytes"

	// Media
	LogFieldImageRef  = "image_ref"
	LogFieldMediaKind = "media_kind"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldVerbose   = "verbose"
)

// Log Level Usage Guidelines
//
// DEBUG: per-call detail such as gateway requests and image candidates.
// INFO: run lifecycle (started, completed), startup and shutdown.
// WARN: best-effort failures that the pipeline absorbs: a failed step,
//   an image that could not be attached, a full dispatch queue.
// ERROR: a run aborted before its thread was created, or a store write
//   that lost bookkeeping.
// FATAL: startup cannot continue (config, database).

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
