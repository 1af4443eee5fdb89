package model

// ConnectionState is the realtime transport status. Only the connection
// manager transitions it; everything else mirrors the latest value.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"
	StateUnknown      ConnectionState = "unknown"
)
