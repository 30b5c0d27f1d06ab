package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LandingPage is a tenant-configured public form with its dispatch settings
type LandingPage struct {
	ID              int64          `json:"id"`
	TenantID        int64          `json:"tenant_id"`
	Title           string         `json:"title"`
	Slug            string         `json:"slug"`
	SubmissionLimit int            `json:"submission_limit"` // 0 means unlimited
	Dispatch        DispatchConfig `json:"dispatch"`
}

// DispatchConfig drives the three dispatch steps for one landing page
type DispatchConfig struct {
	ConnectionID int64              `json:"connection_id,omitempty"`
	CountryCode  string             `json:"country_code,omitempty"`
	Confirmation ConfirmationConfig `json:"confirmation"`
	Group        GroupInviteConfig  `json:"group"`
	Notification NotificationConfig `json:"notification"`
	ContactTags  []int64            `json:"contact_tags,omitempty"`
}

// ConfirmationConfig is the message sent back to the submitter
type ConfirmationConfig struct {
	Enabled  bool   `json:"enabled"`
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// GroupInviteConfig selects the group whose invite link is sent
type GroupInviteConfig struct {
	InviteGroupID        int64  `json:"invite_group_id,omitempty"`
	ManagedGroupSeriesID int64  `json:"managed_group_series_id,omitempty"`
	Message              string `json:"message"`
	ImageURL             string `json:"image_url,omitempty"`
}

// NotificationConfig is the internal alert about a new lead
type NotificationConfig struct {
	Enabled  bool   `json:"enabled"`
	Number   string `json:"number"`
	Template string `json:"template"`
	ImageURL string `json:"image_url,omitempty"`
}

// DefaultGroupInviteMessage is used when a group is configured without a message
const DefaultGroupInviteMessage = "Hi {{name}}! Join our group: {{link}}"

// HasGroup reports whether any group target is configured
func (g GroupInviteConfig) HasGroup() bool {
	return g.InviteGroupID > 0 || g.ManagedGroupSeriesID > 0
}

// Ready reports whether the notification has everything it needs to be sent
func (n NotificationConfig) Ready() bool {
	return n.Enabled && strings.TrimSpace(n.Number) != ""
}

// rawDispatchConfig mirrors the stored JSON where toggles may be absent
type rawDispatchConfig struct {
	ConnectionID int64  `json:"connection_id"`
	CountryCode  string `json:"country_code"`
	Confirmation struct {
		Enabled  *bool  `json:"enabled"`
		Message  string `json:"message"`
		ImageURL string `json:"image_url"`
	} `json:"confirmation"`
	Group struct {
		InviteGroupID        int64  `json:"invite_group_id"`
		ManagedGroupSeriesID int64  `json:"managed_group_series_id"`
		Message              string `json:"message"`
		ImageURL             string `json:"image_url"`
	} `json:"group"`
	Notification struct {
		Enabled  *bool  `json:"enabled"`
		Number   string `json:"number"`
		Template string `json:"template"`
		ImageURL string `json:"image_url"`
	} `json:"notification"`
	ContactTags []int64 `json:"contact_tags"`
}

// ParseDispatchConfig decodes a stored dispatch blob and applies defaults once.
// Absent toggles default to "on when the step has content".
func ParseDispatchConfig(data []byte) (DispatchConfig, error) {
	var cfg DispatchConfig
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	var raw rawDispatchConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse dispatch config: %w", err)
	}

	cfg.ConnectionID = raw.ConnectionID
	cfg.CountryCode = strings.TrimSpace(raw.CountryCode)

	cfg.Confirmation.Message = raw.Confirmation.Message
	cfg.Confirmation.ImageURL = strings.TrimSpace(raw.Confirmation.ImageURL)
	cfg.Confirmation.Enabled = strings.TrimSpace(raw.Confirmation.Message) != ""
	if raw.Confirmation.Enabled != nil {
		cfg.Confirmation.Enabled = *raw.Confirmation.Enabled
	}

	cfg.Group.InviteGroupID = raw.Group.InviteGroupID
	cfg.Group.ManagedGroupSeriesID = raw.Group.ManagedGroupSeriesID
	cfg.Group.Message = raw.Group.Message
	cfg.Group.ImageURL = strings.TrimSpace(raw.Group.ImageURL)
	if cfg.Group.HasGroup() && strings.TrimSpace(cfg.Group.Message) == "" {
		cfg.Group.Message = DefaultGroupInviteMessage
	}

	cfg.Notification.Number = strings.TrimSpace(raw.Notification.Number)
	cfg.Notification.Template = raw.Notification.Template
	cfg.Notification.ImageURL = strings.TrimSpace(raw.Notification.ImageURL)
	cfg.Notification.Enabled = cfg.Notification.Number != ""
	if raw.Notification.Enabled != nil {
		cfg.Notification.Enabled = *raw.Notification.Enabled
	}

	cfg.ContactTags = raw.ContactTags
	return cfg, nil
}
