package models

import "time"

// MediaKind is the attachment type of a sent message
type MediaKind string

const (
	MediaKindNone  MediaKind = ""
	MediaKindImage MediaKind = "image"
)

// MessageStatus records whether the gateway accepted the send
type MessageStatus string

const (
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusFailed MessageStatus = "failed"
)

// MessageRecord is one attempted outgoing message. Records are append-only.
type MessageRecord struct {
	ID               string        `json:"id" db:"id"`
	TicketID         string        `json:"ticket_id" db:"ticket_id"`
	ContactID        string        `json:"contact_id" db:"contact_id"`
	FromMe           bool          `json:"from_me" db:"from_me"`
	Body             string        `json:"body" db:"body"`
	MediaKind        MediaKind     `json:"media_kind" db:"media_kind"`
	MediaRef         string        `json:"media_ref" db:"media_ref"`
	GatewayMessageID string        `json:"gateway_message_id" db:"gateway_message_id"`
	Status           MessageStatus `json:"status" db:"status"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}
