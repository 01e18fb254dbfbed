// Package transport provides the concrete gateway links: a local serial
// port and a TCP socket (for ser2net style network-attached gateways).
// Both satisfy rflink.Transport and are interchangeable from the session's
// perspective.
package transport

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/nerrad567/rflink-core/internal/rflink"
)

// DefaultBaudRate is the rate the stock gateway firmware runs at.
const DefaultBaudRate = 57600

// Serial is a serial-port gateway link.
type Serial struct {
	device string
	mode   *serial.Mode

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates an unopened serial transport for a device path
// ("/dev/ttyACM0", "COM3"). A baud of 0 selects DefaultBaudRate.
func NewSerial(device string, baud int) *Serial {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &Serial{
		device: device,
		mode:   &serial.Mode{BaudRate: baud},
	}
}

// Connect opens the port, closing any previous handle first. Opening a
// local device does not block meaningfully, so ctx is only checked for
// prior cancellation.
func (s *Serial) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		s.port.Close()
		s.port = nil
	}

	port, err := serial.Open(s.device, s.mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.device, err)
	}
	s.port = port
	return nil
}

// Read reads received bytes from the port.
func (s *Serial) Read(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, rflink.ErrNotConnected
	}
	return port.Read(p)
}

// Write sends bytes to the port.
func (s *Serial) Write(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, rflink.ErrNotConnected
	}
	return port.Write(p)
}

// Close closes the port, unblocking pending reads.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// String describes the endpoint for logs.
func (s *Serial) String() string {
	return fmt.Sprintf("serial:%s@%d", s.device, s.mode.BaudRate)
}

func (s *Serial) current() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
