package model

// PresenceSnapshot lists the identities with at least one live session in a
// scope. Identities are sorted.
type PresenceSnapshot struct {
	Scope      string   `json:"scope"`
	Identities []string `json:"identities"`
}

// PresenceChange is the payload of a presence.changed event.
type PresenceChange struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}
