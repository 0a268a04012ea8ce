package event

const (
	// RestartName is reserved for the restart sentinel. It never carries a
	// business payload; observing it forces a live subscription to resync.
	RestartName = "im_live.system.restart"

	// PresenceChangedName is published whenever the set of live sessions in
	// a scope changes.
	PresenceChangedName = "im_live.presence.changed"
)

// NewRestart builds the sentinel for a single identity.
func NewRestart(identity string) Event {
	return New(RestartName, nil, WithScope(identity))
}

// IsRestartFor reports whether e is the sentinel addressed to identity.
func (e Event) IsRestartFor(identity string) bool {
	return e.name == RestartName && e.scopeKey == identity
}
