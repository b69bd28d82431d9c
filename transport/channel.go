package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/kataras/golog"

	"github.com/kramer-control/brain-client-go/event"
)

// Event names emitted on a Channel's bus.
const (
	EventOpen    = "OPEN"
	EventClose   = "CLOSE"
	EventMessage = "MESSAGE"
	EventError   = "ERROR"
)

// Channel is the open-once, duplex, text-framed JSON transport, built on
// gorilla/websocket the way client/core/core.go and client/common/common.go
// build theirs. Channel does not reconnect itself; that is the
// controller's job.
type Channel struct {
	url    string
	logger *golog.Logger
	bus    *event.Bus

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewChannel returns a Channel that will dial url when Open is called.
func NewChannel(url string) *Channel {
	return &Channel{
		url:    url,
		logger: golog.Child("channel"),
		bus:    event.NewBus(),
	}
}

// On registers a listener for one of the Event* names above.
func (c *Channel) On(name string, fn event.Listener) (unsubscribe func()) {
	return c.bus.On(name, fn)
}

// Open dials the underlying websocket and starts the read pump. It is
// "open-once": calling Open again while connected replaces the connection.
func (c *Channel) Open(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.bus.Emit(EventError, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.bus.Emit(EventOpen, nil)
	go c.readLoop(conn)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			c.bus.Emit(EventClose, err)
			return
		}
		c.bus.Emit(EventMessage, string(data))
	}
}

// Send writes textOrJSON as a single text frame; it no-ops
// if the channel is not open. A string or []byte is sent verbatim;
// anything else is JSON-marshalled first.
func (c *Channel) Send(textOrJSON any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	var data []byte
	switch v := textOrJSON.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		raw, err := jsonCodec.Marshal(v)
		if err != nil {
			return err
		}
		data = raw
	}

	// The lock is held across the write so concurrent Sends never write to
	// the connection at the same time.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsOpen reports whether there is currently a live connection.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the underlying connection, if any. It does not emit CLOSE
// itself; the read pump observing the resulting read error does, keeping
// the event the single source of truth for "the channel went away".
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
