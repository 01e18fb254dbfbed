package rflink

import "context"

// Transport is a byte-stream link to a gateway. Implementations cover
// serial ports and TCP sockets; tests substitute in-memory pipes.
//
// A Transport is single-session: Connect may be called again after the
// link drops, and Close ends its use for good. Read and Write are called
// from the session's receive and send loops respectively and need not be
// safe for concurrent Reads.
type Transport interface {
	// Connect (re-)establishes the link. Blocking, honors ctx.
	Connect(ctx context.Context) error

	// Read fills p with received bytes, blocking until at least one byte
	// arrives or the link fails.
	Read(p []byte) (int, error)

	// Write sends p in full or returns an error.
	Write(p []byte) (int, error)

	// Close tears the link down, unblocking pending reads.
	Close() error

	// String describes the endpoint for logs ("serial:/dev/ttyACM0").
	String() string
}
