package transport

import "time"

// Message is a received, fully-reassembled channel message.
type Message struct {
	Channel       string
	Payload       []byte
	RecvTimestamp time.Time
}

// Interface is the capability set every transport variant exposes to
// higher layers, per the specification's §9 "dynamic dispatch ...
// polymorphism over a capability set" design note. Both *Transport (the
// UDP multicast engine) and inproc.Transport satisfy it.
type Interface interface {
	// MTU returns the maximum complete message size this transport will
	// carry.
	MTU() int

	// Send publishes one message on channel. It fails with ErrInvalid if
	// channel exceeds the configured channel length ceiling or payload
	// exceeds MTU, with ErrTooLarge if the message would require more
	// fragments than the wire format can address, and with ErrUnknown on
	// a socket-level send failure.
	Send(channel string, payload []byte) error

	// SubscribeEnable records receive-filter intent for channel (or all
	// channels, if channel is empty). The multicast wire format has no
	// per-channel subscription; this call always succeeds and exists so
	// upstream code can express subscription intent uniformly across
	// transport variants.
	SubscribeEnable(channel string, enable bool) error

	// Recv returns the next complete message, or ErrAgain if none
	// arrives within timeout. timeout < 0 waits indefinitely; timeout ==
	// 0 polls once without blocking.
	Recv(timeout time.Duration) (Message, error)

	// Close releases the transport's resources. A Recv blocked in
	// another execution context returns ErrAgain once Close completes.
	Close() error
}
