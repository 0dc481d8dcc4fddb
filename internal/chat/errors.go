package chat

import "errors"

var (
	// ErrNotConnected rejects a send attempted outside the Connected
	// state. The draft text is retained; see Session.Draft.
	ErrNotConnected = errors.New("chat: not connected")

	// ErrEmptyMessage rejects a send whose body is blank after trimming.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrSessionClosed rejects operations on a torn-down session.
	ErrSessionClosed = errors.New("chat: session closed")

	// ErrAlreadyConnected rejects a second Connect on the same session.
	ErrAlreadyConnected = errors.New("chat: session already connected")

	// ErrSendBufferFull means the transport's outbound queue is saturated.
	ErrSendBufferFull = errors.New("chat: transport send buffer full")

	// ErrTransportClosed rejects writes on a closed transport.
	ErrTransportClosed = errors.New("chat: transport closed")
)
