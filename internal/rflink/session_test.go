package rflink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory gateway link: tests push received bytes
// through incoming and inspect recorded writes.
type fakeTransport struct {
	incoming chan []byte
	failRead chan error
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	writes   []timedWrite
	connects int
}

type timedWrite struct {
	line string
	at   time.Time
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 16),
		failRead: make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (t *fakeTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	t.connects++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Read(p []byte) (int, error) {
	select {
	case b := <-t.incoming:
		return copy(p, b), nil
	case err := <-t.failRead:
		return 0, err
	case <-t.done:
		return 0, net.ErrClosed
	}
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.writes = append(t.writes, timedWrite{line: string(p), at: time.Now()})
	t.mu.Unlock()
	return len(p), nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) String() string { return "fake" }

func (t *fakeTransport) recorded() []timedWrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]timedWrite(nil), t.writes...)
}

func openTestSession(t *testing.T, tr Transport) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{Transport: tr})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionDispatchOrdering(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	var mu sync.Mutex
	var order []string
	record := func(kind string) {
		mu.Lock()
		order = append(order, kind)
		mu.Unlock()
	}

	s.OnRaw(func(raw RawPacket) { record("raw:" + raw.Line) })
	s.OnPacket(func(Packet) { record("packet") })
	s.OnEvent(func(ev Event) { record("event:" + ev.ID) })

	line := "20;46;Kaku;ID=44;SWITCH=4;CMD=OFF;"
	tr.incoming <- []byte(line + Terminator)

	waitFor(t, "event dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"raw:" + line, "packet", "event:kaku_000044_4"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestSessionCommandRepeatCadence(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	const delay = 50 * time.Millisecond
	done := make(chan error, 1)
	err := s.Send(Command{
		DeviceID: "newkaku_000001_01",
		Action:   "on",
		Repeat:   3,
		Delay:    delay,
		Done:     func(err error) { done <- err },
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("delivery failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	writes := tr.recorded()
	if len(writes) != 3 {
		t.Fatalf("got %d writes, want 3", len(writes))
	}
	want := "10;newkaku;000001;01;on;" + Terminator
	for i, w := range writes {
		if w.line != want {
			t.Errorf("write %d = %q, want %q", i, w.line, want)
		}
		if i > 0 {
			if gap := w.at.Sub(writes[i-1].at); gap < delay-5*time.Millisecond {
				t.Errorf("gap %d = %v, want >= %v", i, gap, delay)
			}
		}
	}
}

func TestSessionCommandsDoNotInterleave(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	var wg sync.WaitGroup
	send := func(deviceID string) {
		wg.Add(1)
		err := s.Send(Command{
			DeviceID: deviceID,
			Action:   "on",
			Repeat:   3,
			Delay:    10 * time.Millisecond,
			Done:     func(error) { wg.Done() },
		})
		if err != nil {
			t.Fatalf("Send(%s) failed: %v", deviceID, err)
		}
	}
	send("newkaku_0000aa_1")
	send("newkaku_0000bb_2")
	wg.Wait()

	var lines []string
	for _, w := range tr.recorded() {
		lines = append(lines, w.line)
	}
	a := "10;newkaku;0000aa;1;on;" + Terminator
	b := "10;newkaku;0000bb;2;on;" + Terminator
	want := []string{a, a, a, b, b, b}
	if len(lines) != len(want) {
		t.Fatalf("got %d writes, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("writes = %v, want %v (repeats interleaved)", lines, want)
		}
	}
}

func TestSessionSendRejectsUnknownProtocol(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	err := s.Send(Command{DeviceID: "nosuchfamily_01_1", Action: "on"})
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("Send error = %v, want ErrUnknownProtocol", err)
	}
}

func TestSessionDeliveryFailsWhenDisconnected(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	// Kill the link; without auto-reconnect the session stays down.
	tr.failRead <- fmt.Errorf("link lost")
	waitFor(t, "disconnect", func() bool { return !s.IsConnected() })

	done := make(chan error, 1)
	err := s.Send(Command{
		DeviceID: "newkaku_000001_01",
		Action:   "on",
		Done:     func(err error) { done <- err },
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, ErrNotConnected) {
			t.Errorf("delivery error = %v, want ErrDeliveryFailed wrapping ErrNotConnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery result")
	}
}

func TestSessionResponseRouting(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	var mu sync.Mutex
	var responses []Packet
	var packets int
	s.OnResponse(func(p Packet) {
		mu.Lock()
		responses = append(responses, p)
		mu.Unlock()
	})
	s.OnPacket(func(Packet) {
		mu.Lock()
		packets++
		mu.Unlock()
	})

	tr.incoming <- []byte("20;02;OK;" + Terminator)

	waitFor(t, "response dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(responses) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if !responses[0].OK() {
		t.Errorf("response = %v, want acknowledged", responses[0])
	}
	if packets != 0 {
		t.Errorf("response leaked to packet observers (%d)", packets)
	}
}

func TestSessionAutoReconnect(t *testing.T) {
	tr := newFakeTransport()
	s, err := NewSession(SessionConfig{
		Transport:         tr,
		AutoReconnect:     true,
		ReconnectInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	var mu sync.Mutex
	var states []ConnState
	s.OnStateChange(func(st ConnState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	tr.failRead <- fmt.Errorf("link lost")

	waitFor(t, "reconnection", func() bool {
		return s.Stats().ReconnectsTotal == 1
	})
	if !s.IsConnected() {
		t.Error("session should be connected after reconnect")
	}

	// Receive still works on the new link.
	var got bool
	s.OnEvent(func(Event) {
		mu.Lock()
		got = true
		mu.Unlock()
	})
	tr.incoming <- []byte("20;46;Kaku;ID=44;SWITCH=4;CMD=ON;" + Terminator)
	waitFor(t, "post-reconnect event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	})

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[0] != StateDisconnected {
		t.Errorf("states = %v, want disconnected first", states)
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)
	s.Close()

	if err := s.Send(Command{DeviceID: "newkaku_000001_01", Action: "on"}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send after close = %v, want ErrSessionClosed", err)
	}
	if err := s.SendRaw("10;PING;", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendRaw after close = %v, want ErrSessionClosed", err)
	}
}

func TestSessionSendRawPassthrough(t *testing.T) {
	tr := newFakeTransport()
	s := openTestSession(t, tr)

	done := make(chan error, 1)
	if err := s.SendRaw("10;PING;", func(err error) { done <- err }); err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("delivery failed: %v", err)
	}

	writes := tr.recorded()
	if len(writes) != 1 || writes[0].line != "10;PING;"+Terminator {
		t.Errorf("writes = %v, want single 10;PING; line", writes)
	}
}
