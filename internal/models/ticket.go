package models

import "time"

// TicketStatus is the lifecycle state of a conversation thread
type TicketStatus string

const (
	TicketStatusPending TicketStatus = "pending"
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusClosed  TicketStatus = "closed"
)

// Ticket is a conversation thread between a tenant and a contact
type Ticket struct {
	ID           string       `json:"id" db:"id"`
	TenantID     int64        `json:"tenant_id" db:"tenant_id"`
	ContactID    string       `json:"contact_id" db:"contact_id"`
	ConnectionID int64        `json:"connection_id" db:"connection_id"`
	Status       TicketStatus `json:"status" db:"status"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// TicketTracking is created together with its ticket
type TicketTracking struct {
	ID           string    `json:"id" db:"id"`
	TicketID     string    `json:"ticket_id" db:"ticket_id"`
	TenantID     int64     `json:"tenant_id" db:"tenant_id"`
	ConnectionID int64     `json:"connection_id" db:"connection_id"`
	QueuedAt     time.Time `json:"queued_at" db:"queued_at"`
}
