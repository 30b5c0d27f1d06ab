package models

import (
	"fmt"
	"time"
)

// Submission is one form fill captured from a landing page
type Submission struct {
	ID               string             `json:"id"`
	TenantID         int64              `json:"tenant_id"`
	LandingPageID    int64              `json:"landing_page_id"`
	FormID           string             `json:"form_id,omitempty"`
	Fields           map[string]string  `json:"fields"`
	Metadata         SubmissionMetadata `json:"metadata"`
	Processed        bool               `json:"processed"`
	DispatchAttempts int                `json:"dispatch_attempts"`
	LastErrorCode    string             `json:"last_error_code,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// SubmissionMetadata describes the client that sent the submission
type SubmissionMetadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Device    string `json:"device,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Standard form fields. Anything else is kept as a contact extra field.
const (
	FieldName   = "name"
	FieldNumber = "number"
	FieldEmail  = "email"
)

// Name returns the submitted contact name
func (s *Submission) Name() string {
	return s.Fields[FieldName]
}

// Number returns the raw submitted phone number
func (s *Submission) Number() string {
	return s.Fields[FieldNumber]
}

// Email returns the submitted email, if any
func (s *Submission) Email() string {
	return s.Fields[FieldEmail]
}

// IsStandardField reports whether key is stored on the contact itself
func IsStandardField(key string) bool {
	switch key {
	case FieldName, FieldNumber, FieldEmail:
		return true
	}
	return false
}

// Limit scopes reported by LimitExceededError
const (
	LimitScopeLandingPage = "landing_page"
	LimitScopeIP          = "ip"
)

// SubmissionLimits are the caps checked together with a submission insert.
// A zero limit is not enforced.
type SubmissionLimits struct {
	PerLandingPage int
	PerIP          int
	IPWindowStart  time.Time
}

// LimitExceededError reports the cap that rejected a submission
type LimitExceededError struct {
	Scope string
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s submission limit of %d reached", e.Scope, e.Limit)
}
