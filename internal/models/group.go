package models

// Group is a gateway group a tenant can invite contacts into
type Group struct {
	ID               int64  `json:"id" db:"id"`
	TenantID         int64  `json:"tenant_id" db:"tenant_id"`
	ConnectionID     int64  `json:"connection_id" db:"connection_id"`
	GatewayGroupID   string `json:"gateway_group_id" db:"gateway_group_id"` // "123456789@g.us"
	Subject          string `json:"subject" db:"subject"`
	ParticipantCount int    `json:"participant_count" db:"participant_count"`
	SeriesID         *int64 `json:"series_id,omitempty" db:"series_id"`
	SeriesPosition   int    `json:"series_position" db:"series_position"`
	Capacity         int    `json:"capacity" db:"capacity"`
}

// GroupSeries is a rotating set of groups used when one fills up
type GroupSeries struct {
	ID       int64  `json:"id" db:"id"`
	TenantID int64  `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
}

// GetDisplayName returns the best available display name for the group
func (g *Group) GetDisplayName() string {
	if g.Subject != "" {
		return g.Subject
	}
	return g.GatewayGroupID
}

// HasCapacity reports whether the group can take another participant.
// A zero capacity means unlimited.
func (g *Group) HasCapacity() bool {
	return g.Capacity <= 0 || g.ParticipantCount < g.Capacity
}
