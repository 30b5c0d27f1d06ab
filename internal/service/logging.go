package service

import (
	"context"

	"leadflow/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so that log lines carry unmasked identifiers
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizePhoneNumber masks a phone number unless ctx is verbose
func SanitizePhoneNumber(ctx context.Context, phone string) string {
	if IsVerboseLogging(ctx) {
		return phone
	}
	return privacy.MaskPhoneNumber(phone)
}

// SanitizeChatID masks a gateway chat id unless ctx is verbose
func SanitizeChatID(ctx context.Context, chatID string) string {
	if IsVerboseLogging(ctx) {
		return chatID
	}
	return privacy.MaskChatID(chatID)
}

// SanitizeMessageID shortens a gateway message id unless ctx is verbose
func SanitizeMessageID(ctx context.Context, msgID string) string {
	if IsVerboseLogging(ctx) {
		return msgID
	}
	return privacy.MaskMessageID(msgID)
}

// SanitizeContent hides message bodies unless ctx is verbose
func SanitizeContent(ctx context.Context, content string) string {
	if content == "" || IsVerboseLogging(ctx) {
		return content
	}
	return "[hidden]"
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField(LogFieldVerbose, IsVerboseLogging(ctx))
}

// runFields are attached to every log line of one dispatch run
func runFields(tenantID int64, submissionID string) logrus.Fields {
	return logrus.Fields{
		LogFieldTenantID:     tenantID,
		LogFieldSubmissionID: submissionID,
	}
}
