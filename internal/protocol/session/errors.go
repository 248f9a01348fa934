package session

import "errors"

var (
	// ErrReadFailed means nothing is available for the channel right now.
	// The session stays usable.
	ErrReadFailed = errors.New("session: read failed")
	// ErrTransport is a fatal I/O failure or stream desync. The session is
	// closed when it is returned.
	ErrTransport      = errors.New("session: transport failure")
	ErrSendFailed     = errors.New("session: send failed")
	ErrSessionClosed  = errors.New("session: closed")
	ErrChannelExists  = errors.New("session: channel already exists")
	ErrUnknownChannel = errors.New("session: unknown channel")
	ErrChannelClosed  = errors.New("session: channel closed")
)
