package rflink

import (
	"bytes"
	"fmt"
)

// DefaultMaxLineLength bounds buffered partial lines. The longest packets
// the firmware emits (QRFDEBUG pulse dumps) stay well under this.
const DefaultMaxLineLength = 1024

// FrameSplitter reassembles CR-LF terminated packet lines from arbitrary
// byte chunks. Chunk boundaries carry no meaning: partial lines are
// buffered until their terminator arrives, and empty lines (terminator
// directly following terminator) are discarded.
//
// The splitter is a plain accumulator owned by a single reader goroutine;
// it is not safe for concurrent use.
type FrameSplitter struct {
	buf     bytes.Buffer
	maxLine int

	// discarding is set after an oversized line: input is dropped until
	// the next terminator so framing can resynchronize.
	discarding bool
}

// NewFrameSplitter creates a splitter with the given safety bound on line
// length. A bound of 0 selects DefaultMaxLineLength.
func NewFrameSplitter(maxLineLength int) *FrameSplitter {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &FrameSplitter{maxLine: maxLineLength}
}

// Push appends one received chunk and returns every line completed by it,
// in arrival order and with terminators stripped.
//
// When the buffered partial line exceeds the safety bound, the buffer is
// discarded, ErrLineTooLong is returned together with any lines completed
// before the overflow, and framing resumes from the next terminator.
func (f *FrameSplitter) Push(chunk []byte) ([]string, error) {
	f.buf.Write(chunk)

	var lines []string
	var overflow error

	for {
		data := f.buf.Bytes()
		idx := bytes.Index(data, []byte(Terminator))
		if idx < 0 {
			if f.discarding {
				// Still inside the runaway line; nothing buffered can
				// belong to a later frame, so the cap holds while waiting
				// for the terminator.
				f.buf.Reset()
			} else if f.buf.Len() > f.maxLine {
				f.discarding = true
				f.buf.Reset()
				overflow = fmt.Errorf("%w: %d buffered bytes without terminator",
					ErrLineTooLong, len(data))
			}
			return lines, overflow
		}

		line := string(data[:idx])
		f.buf.Next(idx + len(Terminator))

		if f.discarding {
			// This terminator ends the oversized line; drop the remnant
			// and resume normal framing.
			f.discarding = false
			continue
		}
		if line == "" {
			continue
		}
		if len(line) > f.maxLine {
			overflow = fmt.Errorf("%w: %d byte line", ErrLineTooLong, len(line))
			continue
		}
		lines = append(lines, line)
	}
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (f *FrameSplitter) Pending() int {
	return f.buf.Len()
}

// Reset drops any buffered partial line, e.g. after a reconnect.
func (f *FrameSplitter) Reset() {
	f.buf.Reset()
	f.discarding = false
}
