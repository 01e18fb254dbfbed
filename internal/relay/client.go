package relay

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/rflink-core/internal/rflink"
)

// writeTimeout bounds one line write to a downstream client.
const writeTimeout = 5 * time.Second

// client is one downstream connection. Its outbound path is a bounded
// buffer drained by a dedicated writer goroutine, so a slow client never
// back-pressures the hub's broadcast.
type client struct {
	id   string
	conn net.Conn
	hub  *Hub

	out  chan string
	done chan struct{}
}

func newClient(conn net.Conn, hub *Hub, buffer int) *client {
	return &client{
		id:   "relay-" + uuid.NewString(),
		conn: conn,
		hub:  hub,
		out:  make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// enqueue offers a line to the client's outbound buffer. A full buffer
// means the client cannot keep up and reports failure; the hub drops it.
func (c *client) enqueue(line string) bool {
	select {
	case c.out <- line:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound buffer onto the socket.
func (c *client) writeLoop() {
	defer c.hub.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.hub.done.Done():
			return
		case line := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write([]byte(line + rflink.Terminator)); err != nil {
				c.hub.logWarn("client write failed", "client", c.id, "error", err)
				c.hub.removeClient(c)
				return
			}
		}
	}
}

// readLoop forwards lines from the client to the gateway session. EOF or
// a read error removes the client; other clients are unaffected.
func (c *client) readLoop() {
	defer c.hub.wg.Done()
	defer c.hub.removeClient(c)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Domoticz omits the trailing delimiter; restore it so the line
		// validates (domoticz/domoticz#2816).
		if !strings.HasSuffix(line, rflink.Delimiter) {
			line += rflink.Delimiter
		}

		if !rflink.ValidPacket(line) {
			c.hub.logWarn("dropping invalid client data", "client", c.id, "line", line)
			continue
		}
		c.hub.forward(c, line)
	}

	if err := scanner.Err(); err != nil {
		c.hub.logDebug("client read ended", "client", c.id, "error", err)
	}
}

// close releases the socket and stops the writer. Idempotent via the
// hub's client map; the hub only calls it once.
func (c *client) close() {
	close(c.done)
	c.conn.Close()
}
