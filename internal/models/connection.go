package models

// ConnectionStatus is the state of a tenant's gateway session
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "CONNECTED"
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionStatusQRCode       ConnectionStatus = "QRCODE"
)

// Connection is a tenant's authenticated session with the gateway
type Connection struct {
	ID          int64            `json:"id" db:"id"`
	TenantID    int64            `json:"tenant_id" db:"tenant_id"`
	Name        string           `json:"name" db:"name"`
	SessionName string           `json:"session_name" db:"session_name"`
	Status      ConnectionStatus `json:"status" db:"status"`
	IsDefault   bool             `json:"is_default" db:"is_default"`
}

// IsConnected reports whether the connection can carry messages
func (c *Connection) IsConnected() bool {
	return c.Status == ConnectionStatusConnected
}
