package enum

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionListening    ConnectionState = "listening"
	ConnectionPolling      ConnectionState = "polling"
	ConnectionRefreshing   ConnectionState = "refreshing"
	ConnectionError        ConnectionState = "error"
)

func (s ConnectionState) String() string {
	return string(s)
}

// IsActive reports whether a live connection exists in this state.
func (s ConnectionState) IsActive() bool {
	return s == ConnectionListening || s == ConnectionPolling
}
