package chat

import "errors"

var (
	// ErrAuth means the connect token was rejected; the connection is refused.
	ErrAuth = errors.New("chat: authentication failed")

	// ErrValidation means a malformed inbound event; it is dropped and logged,
	// the connection stays up.
	ErrValidation = errors.New("chat: invalid event")

	// ErrMembership means an event for a conversation the session has not
	// joined. It is dropped silently; in the common case it is a benign race
	// between a leave and an in-flight event, not an attack.
	ErrMembership = errors.New("chat: not a member of conversation")
)
