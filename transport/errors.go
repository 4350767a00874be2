package transport

import "errors"

// Caller-facing error taxonomy. Datagram-level faults (bad magic, bad
// length, channel overflow, mid-message eviction) are never surfaced
// through these; they are absorbed by the receive loop and counted in
// Stats instead.
var (
	// ErrInvalid means caller input was out of range: channel name too
	// long, or payload exceeding MTU.
	ErrInvalid = errors.New("transport: invalid argument")

	// ErrAgain means no message was available within the requested
	// timeout, or the socket was closed while a recv was blocked.
	ErrAgain = errors.New("transport: no message available")

	// ErrConnect means socket setup (multicast join, bind) failed.
	ErrConnect = errors.New("transport: connect failed")

	// ErrTooLarge means a send would require more than 65535 fragments.
	ErrTooLarge = errors.New("transport: message too large to fragment")

	// ErrUnknown wraps a socket-level send failure.
	ErrUnknown = errors.New("transport: unknown socket error")

	// ErrClosed is returned by Send when called after Close. Recv after
	// Close returns ErrAgain instead.
	ErrClosed = errors.New("transport: closed")
)
