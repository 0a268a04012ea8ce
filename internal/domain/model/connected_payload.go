package model

// ServerVersion is reported to clients in the handshake.
const ServerVersion = "1.0.0"

// ConnectedPayload is sent to the client once its subscription is live.
type ConnectedPayload struct {
	Ok             bool     `json:"ok"`
	SubscriptionID string   `json:"subscription_id"`
	Names          []string `json:"names"`
	ServerVersion  string   `json:"server_version"`
}
