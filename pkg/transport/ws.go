package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024

	// Outbound queue depth per channel.
	sendQueueSize = 64
)

var (
	// ErrChannelClosed indicates the channel is no longer usable
	ErrChannelClosed = errors.New("channel is closed")

	// ErrSendQueueFull indicates the outbound queue overflowed
	ErrSendQueueFull = errors.New("send queue is full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsChannel adapts a gorilla websocket connection to the Channel interface.
// A single writer goroutine drains the send queue and emits keepalive pings;
// reads happen on the caller's goroutine through Recv.
type wsChannel struct {
	conn  *websocket.Conn
	log   logging.LeveledLogger
	send  chan []byte
	state atomic.Int32
	done  chan struct{}
	once  sync.Once
}

func newWSChannel(conn *websocket.Conn, log logging.LeveledLogger) *wsChannel {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("transport")
	}
	ch := &wsChannel{
		conn: conn,
		log:  log,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	ch.state.Store(int32(StateOpen))

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go ch.writePump()
	return ch
}

// Upgrade turns an incoming HTTP request into an open Channel.
func Upgrade(w http.ResponseWriter, r *http.Request, log logging.LeveledLogger) (Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWSChannel(conn, log), nil
}

// Dial connects to a relay websocket endpoint and returns an open Channel.
func Dial(ctx context.Context, url string, log logging.LeveledLogger) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWSChannel(conn, log), nil
}

func (c *wsChannel) Send(v any) error {
	if c.State() != StateOpen {
		return ErrChannelClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *wsChannel) Recv() (json.RawMessage, error) {
	if c.State() == StateClosed {
		return nil, ErrChannelClosed
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.Close()
		return nil, err
	}
	return data, nil
}

func (c *wsChannel) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *wsChannel) Close() error {
	c.once.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		c.conn.Close()
		c.state.Store(int32(StateClosed))
	})
	return nil
}

// writePump is the single writer for the connection. It drains the send
// queue and keeps the connection alive with periodic pings.
func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debugf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
