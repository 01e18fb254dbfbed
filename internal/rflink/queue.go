package rflink

import "time"

// Default command cadence. Most 433MHz receivers need a handful of
// repeats to register reliably; the firmware paces its own RF retries,
// so the inter-repeat delay stays coarse.
const (
	// DefaultRepeat is the number of transmissions per command when the
	// caller does not ask for more.
	DefaultRepeat = 1

	// DefaultRepeatDelay separates the transmissions of one command.
	DefaultRepeatDelay = 500 * time.Millisecond

	// commandQueueSize bounds pending commands. Submissions past this
	// fail fast with ErrQueueFull rather than blocking the caller.
	commandQueueSize = 64
)

// Command is an outbound switch intent addressed by device id.
//
// Delivery is fire and forget: the session transmits the encoded packet
// Repeat times with Delay between transmissions, all repeats contiguous,
// and abandons the remaining repeats of this command (never retrying
// across a reconnect) if a write fails.
type Command struct {
	// DeviceID is the target in serialized form ("newkaku_000001_01").
	// The protocol component must resolve to a known family.
	DeviceID string

	// Action is the switch command: on, off, allon, alloff, up, down,
	// stop, pair.
	Action string

	// Repeat is the transmission count; 0 means DefaultRepeat.
	Repeat int

	// Delay separates repeats; 0 means DefaultRepeatDelay.
	Delay time.Duration

	// Done, when set, is called exactly once after the final transmission
	// attempt: nil on full delivery, the first write error otherwise.
	// Called from the session's send goroutine; must not block.
	Done func(error)
}

// queuedCommand pairs a command with its packet text, encoded at submit
// time so encoding errors surface to the caller synchronously.
type queuedCommand struct {
	cmd  Command
	line string
}

// finish invokes the completion callback, if any.
func (q queuedCommand) finish(err error) {
	if q.cmd.Done != nil {
		q.cmd.Done(err)
	}
}

// normalize applies cadence defaults.
func (c *Command) normalize() {
	if c.Repeat <= 0 {
		c.Repeat = DefaultRepeat
	}
	if c.Delay <= 0 {
		c.Delay = DefaultRepeatDelay
	}
}
