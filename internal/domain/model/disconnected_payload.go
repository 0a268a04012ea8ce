package model

const (
	DisconnectRestart  = "RESTART"
	DisconnectShutdown = "SHUTDOWN"
	DisconnectFailure  = "FAILURE"
)

// DisconnectedPayload represents the notification sent before the server closes the stream.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"` // RESTART tells the client to refetch from scratch
}
