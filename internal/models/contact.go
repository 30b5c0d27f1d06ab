package models

import "time"

// Contact is a tenant-scoped person identified by canonical phone number
type Contact struct {
	ID              string       `json:"id" db:"id"`
	TenantID        int64        `json:"tenant_id" db:"tenant_id"`
	CanonicalNumber string       `json:"canonical_number" db:"canonical_number"` // "+5511987654321"
	Name            string       `json:"name" db:"name"`
	Email           string       `json:"email" db:"email"`
	ProfilePicURL   string       `json:"profile_pic_url" db:"profile_pic_url"`
	ConnectionID    int64        `json:"connection_id" db:"connection_id"`
	ExtraFields     []ExtraField `json:"extra_fields" db:"-"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// ExtraField is a non-standard form field accumulated on a contact
type ExtraField struct {
	Name  string `json:"name" db:"name"`
	Value string `json:"value" db:"value"`
}

// GetDisplayName returns the best available display name for the contact
func (c *Contact) GetDisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.CanonicalNumber
}
