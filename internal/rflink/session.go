package rflink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timing for session lifecycle.
const (
	// defaultConnectTimeout bounds a single transport connect attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection
	// attempts.
	defaultReconnectInterval = 5 * time.Second

	// defaultMaxReconnectInterval caps the exponential backoff.
	defaultMaxReconnectInterval = 2 * time.Minute

	// readBufferSize is the chunk size handed to the frame splitter.
	readBufferSize = 512

	// dispatchQueueSize bounds lines waiting for observer dispatch.
	dispatchQueueSize = 100
)

// ConnState describes the session's position in its lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Logger is the minimal structured logging surface the session needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SessionConfig configures a gateway session.
type SessionConfig struct {
	// Transport is the link to the gateway. Required.
	Transport Transport

	// AutoReconnect re-opens the transport after a read or write failure.
	AutoReconnect bool

	// ConnectTimeout bounds each connect attempt. Default 10s.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial backoff. Default 5s.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff. Default 2min.
	MaxReconnectInterval time.Duration

	// MaxLineLength bounds buffered partial lines.
	// Default DefaultMaxLineLength.
	MaxLineLength int

	// Registry selects the protocol decoders. Default DefaultRegistry().
	Registry *Registry

	// Logger is optional; nil disables session logging.
	Logger Logger
}

// SessionStats holds operational counters.
type SessionStats struct {
	LinesRx         uint64
	LinesInvalid    uint64
	LinesDropped    uint64 // lines dropped due to full dispatch queue
	CommandsTx      uint64
	CommandsFailed  uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// Session owns one gateway link: it runs the receive loop (frame splitter,
// codec, event mapper, observers) and the single-writer send path that
// drains the command queue.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observers run on a single dispatch goroutine, so for each packet the
//     raw observers fire before the packet observers, which fire before the
//     event observers, and packets are observed in arrival order.
//
// Auto-Reconnection:
//   - With AutoReconnect set, a failed read re-opens the transport with
//     exponential backoff from ReconnectInterval up to MaxReconnectInterval.
//   - Reconnection stops only when Close is called.
type Session struct {
	cfg       SessionConfig
	codec     *Codec
	splitter  *FrameSplitter
	transport Transport

	// Connection state
	connMu sync.RWMutex
	state  ConnState

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Observers, registered before or after Open
	obsMu      sync.RWMutex
	onRaw      []func(RawPacket)
	onPacket   []func(Packet)
	onEvent    []func(Event)
	onResponse []func(Packet)
	onStateObs []func(ConnState)

	// Pipelines
	dispatchQueue chan string
	sendQueue     chan queuedCommand

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Statistics
	linesRx         atomic.Uint64
	linesInvalid    atomic.Uint64
	linesDropped    atomic.Uint64
	commandsTx      atomic.Uint64
	commandsFailed  atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// NewSession builds an unconnected session. Call Open to connect.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: no transport configured", ErrConnectionFailed)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	return &Session{
		cfg:           cfg,
		codec:         NewCodec(registry),
		splitter:      NewFrameSplitter(cfg.MaxLineLength),
		transport:     cfg.Transport,
		state:         StateDisconnected,
		dispatchQueue: make(chan string, dispatchQueueSize),
		sendQueue:     make(chan queuedCommand, commandQueueSize),
		done:          newCloseOnce(),
	}, nil
}

// Codec exposes the session's codec for callers that decode or encode
// lines themselves (the relay's client path does).
func (s *Session) Codec() *Codec {
	return s.codec
}

// Open connects the transport and starts the receive, dispatch and send
// goroutines.
//
// Returns:
//   - error: wrapping ErrConnectionFailed if the transport cannot open
func (s *Session) Open(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	s.setState(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.transport.Connect(connectCtx); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, s.transport.String(), err)
	}

	s.setState(StateConnected)
	s.lastActivity.Store(time.Now().Unix())
	s.logInfo("connected", "endpoint", s.transport.String())

	s.wg.Add(3)
	go s.receiveLoop()
	go s.dispatchLoop()
	go s.sendLoop()

	return nil
}

// OnRaw registers an observer for every valid line, called with the
// untouched line text before any decoding result is observable.
func (s *Session) OnRaw(fn func(RawPacket)) {
	s.obsMu.Lock()
	s.onRaw = append(s.onRaw, fn)
	s.obsMu.Unlock()
}

// OnPacket registers an observer for every decoded packet.
func (s *Session) OnPacket(fn func(Packet)) {
	s.obsMu.Lock()
	s.onPacket = append(s.onPacket, fn)
	s.obsMu.Unlock()
}

// OnEvent registers an observer for derived events.
func (s *Session) OnEvent(fn func(Event)) {
	s.obsMu.Lock()
	s.onEvent = append(s.onEvent, fn)
	s.obsMu.Unlock()
}

// OnResponse registers an observer for gateway command responses
// (OK and CMD UNKNOWN packets).
func (s *Session) OnResponse(fn func(Packet)) {
	s.obsMu.Lock()
	s.onResponse = append(s.onResponse, fn)
	s.obsMu.Unlock()
}

// OnStateChange registers an observer for connection state transitions.
func (s *Session) OnStateChange(fn func(ConnState)) {
	s.obsMu.Lock()
	s.onStateObs = append(s.onStateObs, fn)
	s.obsMu.Unlock()
}

// Send encodes a command and queues it for transmission. Encoding happens
// here so an unknown protocol or malformed id fails the caller directly;
// delivery itself is fire and forget (see Command.Done).
//
// Returns:
//   - error: ErrSessionClosed, ErrUnknownProtocol, ErrEncodingFailed or
//     ErrQueueFull
func (s *Session) Send(cmd Command) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	p := DeserializePacketID(cmd.DeviceID)
	p["command"] = cmd.Action
	line, err := s.codec.Encode(p)
	if err != nil {
		return err
	}

	cmd.normalize()
	return s.enqueue(queuedCommand{cmd: cmd, line: line})
}

// SendRaw queues an already-formed packet line verbatim (the relay's
// pass-through path). The line must not include the terminator.
func (s *Session) SendRaw(line string, done func(error)) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	cmd := Command{Done: done}
	cmd.normalize()
	cmd.Repeat = 1
	return s.enqueue(queuedCommand{cmd: cmd, line: line})
}

func (s *Session) enqueue(q queuedCommand) error {
	select {
	case s.sendQueue <- q:
		return nil
	default:
		return fmt.Errorf("%w: %d pending commands", ErrQueueFull, len(s.sendQueue))
	}
}

// Close shuts the session down: cancels any backoff wait, abandons queued
// command repeats, closes the transport and waits for the goroutines.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.done.Close()
	s.setState(StateDisconnected)
	s.transport.Close()
	s.wg.Wait()
	s.drainSendQueue()
	s.logInfo("session closed")
	return nil
}

// IsConnected reports whether the transport is open and readable.
func (s *Session) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.state == StateConnected
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.state
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		LinesRx:         s.linesRx.Load(),
		LinesInvalid:    s.linesInvalid.Load(),
		LinesDropped:    s.linesDropped.Load(),
		CommandsTx:      s.commandsTx.Load(),
		CommandsFailed:  s.commandsFailed.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
		Connected:       s.IsConnected(),
		Reconnecting:    s.reconnecting.Load(),
	}
}

// receiveLoop reads transport chunks into the frame splitter and feeds
// complete lines to the dispatch queue. On read failure it hands control
// to the reconnect path when auto-reconnect is enabled.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		n, err := s.transport.Read(buf)
		if n > 0 {
			lines, serr := s.splitter.Push(buf[:n])
			if serr != nil {
				s.errorsTotal.Add(1)
				s.logWarn("framing error", "error", serr)
			}
			for _, line := range lines {
				s.enqueueLine(line)
			}
		}
		if err == nil {
			continue
		}

		if s.isClosed() {
			return
		}

		s.errorsTotal.Add(1)
		s.logWarn("read failed", "error", err)
		s.handleDisconnect()

		if !s.cfg.AutoReconnect {
			return
		}
		if !s.reconnect() {
			return
		}
	}
}

func (s *Session) enqueueLine(line string) {
	s.linesRx.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	select {
	case s.dispatchQueue <- line:
	default:
		// Queue full, drop the line to keep the receive loop live.
		s.linesDropped.Add(1)
		s.errorsTotal.Add(1)
		s.logWarn("dispatch queue full, dropping line")
	}
}

// dispatchLoop decodes queued lines and notifies observers. A single
// goroutine keeps ordering: raw, then packet, then derived events, in
// line arrival order.
func (s *Session) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		case line := <-s.dispatchQueue:
			s.dispatchLine(line)
		}
	}
}

func (s *Session) dispatchLine(line string) {
	if !ValidPacket(line) {
		s.linesInvalid.Add(1)
		s.logDebug("unrecognized line", "line", line)
		return
	}

	s.obsMu.RLock()
	onRaw := s.onRaw
	onPacket := s.onPacket
	onEvent := s.onEvent
	onResponse := s.onResponse
	s.obsMu.RUnlock()

	raw := NewRawPacket(line)
	for _, fn := range onRaw {
		s.safeNotify(func() { fn(raw) })
	}

	p, err := s.codec.Decode(line)
	if err != nil {
		s.errorsTotal.Add(1)
		s.logDebug("decode failed", "line", line, "error", err)
		return
	}

	if p.IsResponse() {
		for _, fn := range onResponse {
			s.safeNotify(func() { fn(p) })
		}
		return
	}

	for _, fn := range onPacket {
		s.safeNotify(func() { fn(p) })
	}
	for _, ev := range s.codec.Events(p) {
		for _, fn := range onEvent {
			s.safeNotify(func() { fn(ev) })
		}
	}
}

// safeNotify shields the dispatch loop from observer panics.
func (s *Session) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.errorsTotal.Add(1)
			s.logError("observer panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}

// sendLoop is the single transport writer. Each command's repeats are
// transmitted contiguously with the configured delay between them; a
// failed write abandons that command's remaining repeats.
func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		case q := <-s.sendQueue:
			q.finish(s.transmit(q))
		}
	}
}

func (s *Session) transmit(q queuedCommand) error {
	for i := range q.cmd.Repeat {
		if i > 0 {
			select {
			case <-s.done.Done():
				return ErrSessionClosed
			case <-time.After(q.cmd.Delay):
			}
		}

		if !s.IsConnected() {
			s.commandsFailed.Add(1)
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, ErrNotConnected)
		}
		if _, err := s.transport.Write([]byte(q.line + Terminator)); err != nil {
			s.commandsFailed.Add(1)
			s.errorsTotal.Add(1)
			return fmt.Errorf("%w: write: %w", ErrDeliveryFailed, err)
		}
		s.commandsTx.Add(1)
		s.lastActivity.Store(time.Now().Unix())
		s.logDebug("transmitted", "line", q.line, "repeat", i+1)
	}
	return nil
}

// handleDisconnect marks the session disconnected after a transport error.
func (s *Session) handleDisconnect() {
	s.connMu.Lock()
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	s.connMu.Unlock()

	if wasConnected {
		s.notifyState(StateDisconnected)
		s.logInfo("connection lost", "endpoint", s.transport.String())
	}
}

// reconnect re-opens the transport with exponential backoff. Returns true
// once connected, false if shutdown was signalled.
func (s *Session) reconnect() bool {
	// Only one reconnect runs at a time; the receive loop is the sole
	// caller, the guard protects against future callers.
	if !s.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer s.reconnecting.Store(false)

	s.splitter.Reset()
	backoff := s.cfg.ReconnectInterval

	for {
		if s.isClosed() {
			return false
		}

		attempt := s.reconnectCount.Add(1)
		s.setState(StateConnecting)
		s.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		err := s.transport.Connect(ctx)
		cancel()
		if err == nil {
			s.setState(StateConnected)
			s.reconnectCount.Store(0)
			s.reconnectsTotal.Add(1)
			s.lastActivity.Store(time.Now().Unix())
			s.logInfo("reconnection successful", "total_reconnects", s.reconnectsTotal.Load())
			return true
		}

		s.setState(StateDisconnected)
		s.errorsTotal.Add(1)
		s.logWarn("reconnect failed", "error", err)

		select {
		case <-s.done.Done():
			return false
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > s.cfg.MaxReconnectInterval {
			backoff = s.cfg.MaxReconnectInterval
		}
	}
}

// drainSendQueue fails any commands left behind at shutdown.
func (s *Session) drainSendQueue() {
	for {
		select {
		case q := <-s.sendQueue:
			q.finish(ErrSessionClosed)
		default:
			return
		}
	}
}

func (s *Session) setState(state ConnState) {
	s.connMu.Lock()
	changed := s.state != state
	s.state = state
	s.connMu.Unlock()

	if changed {
		s.notifyState(state)
	}
}

func (s *Session) notifyState(state ConnState) {
	s.obsMu.RLock()
	obs := s.onStateObs
	s.obsMu.RUnlock()
	for _, fn := range obs {
		s.safeNotify(func() { fn(state) })
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, err error) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Error(msg, "error", err)
	}
}
