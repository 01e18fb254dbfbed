package rflink

import "errors"

// Domain errors for the rflink package.
var (
	// ErrNotConnected is returned when an operation requires a live
	// transport but the session is not connected.
	ErrNotConnected = errors.New("rflink: not connected to gateway")

	// ErrConnectionFailed is returned when opening the transport fails.
	ErrConnectionFailed = errors.New("rflink: connection to gateway failed")

	// ErrInvalidPacket is returned when a line cannot be broken into the
	// node/sequence/payload structure every packet shares.
	ErrInvalidPacket = errors.New("rflink: invalid packet")

	// ErrUnknownProtocol is returned when encoding a command whose device
	// id does not resolve to a known, encodable protocol family.
	ErrUnknownProtocol = errors.New("rflink: unknown protocol")

	// ErrEncodingFailed is returned when a command is missing fields
	// required by the outbound packet format.
	ErrEncodingFailed = errors.New("rflink: encoding failed")

	// ErrLineTooLong is returned by the frame splitter when a line exceeds
	// the configured safety bound. The buffered data is discarded and
	// framing resumes at the next delimiter.
	ErrLineTooLong = errors.New("rflink: line exceeds maximum length")

	// ErrSessionClosed is returned when submitting work to a session that
	// has been closed.
	ErrSessionClosed = errors.New("rflink: session closed")

	// ErrQueueFull is returned when the command queue cannot accept more
	// submissions.
	ErrQueueFull = errors.New("rflink: command queue full")

	// ErrDeliveryFailed is returned (via the command completion callback)
	// when a command transmission fails; remaining repeats are abandoned.
	ErrDeliveryFailed = errors.New("rflink: command delivery failed")
)
