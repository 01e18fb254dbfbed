// Package relay multiplexes one gateway session among any number of
// downstream TCP clients speaking the gateway wire format. Every raw line
// from the gateway fans out to all clients; lines from clients are
// validated and forwarded to the session's command queue.
package relay

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/rflink-core/internal/rflink"
)

// Defaults for downstream client handling.
const (
	// DefaultClientBuffer is the per-client outbound line buffer. A client
	// falling this many lines behind is dropped.
	DefaultClientBuffer = 64

	// DefaultMaxClients caps concurrent downstream connections.
	DefaultMaxClients = 16
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

// HubConfig configures a relay hub.
type HubConfig struct {
	// ListenAddr is the TCP address to accept clients on (":14444").
	ListenAddr string

	// ClientBuffer is the per-client outbound buffer.
	// Default DefaultClientBuffer.
	ClientBuffer int

	// MaxClients caps concurrent connections. Default DefaultMaxClients.
	MaxClients int

	// CommandRepeat is the repeat count applied to client switch commands.
	// 0 keeps the session's default.
	CommandRepeat int

	// CommandDelay separates those repeats. 0 keeps the default.
	CommandDelay time.Duration

	// Logger is optional; nil disables hub logging.
	Logger rflink.Logger
}

// Hub accepts downstream clients and wires them to one gateway session.
//
// Thread Safety: all methods are safe for concurrent use. Broadcast never
// blocks on a client socket; each client has an isolated buffered writer
// and is dropped when its buffer overflows.
type Hub struct {
	cfg      HubConfig
	session  *rflink.Session
	listener net.Listener

	mu      sync.Mutex
	clients map[string]*client

	done *closeOnce
	wg   sync.WaitGroup
}

// NewHub creates a hub over an opened session.
func NewHub(session *rflink.Session, cfg HubConfig) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultClientBuffer
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	return &Hub{
		cfg:     cfg,
		session: session,
		clients: make(map[string]*client),
		done:    newCloseOnce(),
	}
}

// Start binds the listener, subscribes to the session's raw feed and
// accepts clients until Stop.
//
// Returns:
//   - error: if the listen address cannot be bound
func (h *Hub) Start() error {
	l, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.cfg.ListenAddr, err)
	}
	h.listener = l

	h.session.OnRaw(func(raw rflink.RawPacket) {
		h.broadcast(raw.Line)
	})

	h.logInfo("relay listening", "addr", l.Addr().String())

	h.wg.Add(1)
	go h.acceptLoop()
	return nil
}

// Addr returns the bound listen address, for tests and logs.
func (h *Hub) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop closes the listener and every downstream client, then waits for
// the per-client goroutines. Safe to call multiple times.
func (h *Hub) Stop() {
	h.done.Close()
	if h.listener != nil {
		h.listener.Close()
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
	h.logInfo("relay stopped")
}

// ClientCount returns the number of connected downstream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()

	for {
		conn, err := h.listener.Accept()
		if err != nil {
			// Listener closed on Stop.
			return
		}

		h.mu.Lock()
		full := len(h.clients) >= h.cfg.MaxClients
		h.mu.Unlock()
		if full {
			h.logWarn("max clients reached, rejecting connection",
				"remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		c := newClient(conn, h, h.cfg.ClientBuffer)
		h.mu.Lock()
		h.clients[c.id] = c
		h.mu.Unlock()

		h.logInfo("client connected",
			"client", c.id, "remote_addr", conn.RemoteAddr().String())

		h.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	}
}

// broadcast fans one gateway line out to every client. Clients whose
// buffer is full are dropped rather than slowing the rest.
func (h *Hub) broadcast(line string) {
	// Heartbeat chatter stays at debug level.
	if strings.Contains(line, ";PONG;") {
		h.logDebug("forwarding to clients", "line", line)
	} else {
		h.logInfo("forwarding to clients", "line", line)
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.enqueue(line) {
			h.logWarn("client buffer full, dropping client", "client", c.id)
			h.removeClient(c)
		}
	}
}

// forward submits one validated client line to the gateway session.
// Command-shaped lines go through id serialization so they pick up the
// hub's repeat cadence; the client gets the gateway-style acknowledgement
// once the command has been handed to the transport. Anything else passes
// through verbatim.
func (h *Hub) forward(c *client, line string) {
	if !strings.Contains(line, ";PING;") {
		h.logInfo("forwarding to gateway", "client", c.id, "line", line)
	} else {
		h.logDebug("forwarding to gateway", "client", c.id, "line", line)
	}

	p, err := rflink.DecodeTX(line)
	if err != nil || p.Command() == "" {
		if err := h.session.SendRaw(line, nil); err != nil {
			h.logWarn("raw forward failed", "client", c.id, "error", err)
		}
		return
	}

	cmd := rflink.Command{
		DeviceID: rflink.SerializePacketID(p),
		Action:   p.Command(),
		Repeat:   h.cfg.CommandRepeat,
		Delay:    h.cfg.CommandDelay,
		Done: func(err error) {
			if err != nil {
				h.logWarn("command delivery failed", "client", c.id, "error", err)
				return
			}
			c.enqueue("20;00;OK;")
		},
	}
	if err := h.session.Send(cmd); err != nil {
		h.logWarn("command forward failed", "client", c.id, "error", err)
	}
}

// removeClient drops a client from the broadcast set and closes it. Only
// the first caller for a given client does the teardown.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if present {
		c.close()
		h.logInfo("client disconnected", "client", c.id)
	}
}

func (h *Hub) logDebug(msg string, keysAndValues ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

func (h *Hub) logInfo(msg string, keysAndValues ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (h *Hub) logWarn(msg string, keysAndValues ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Warn(msg, keysAndValues...)
	}
}
