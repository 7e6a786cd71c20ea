package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers with many candidates fit comfortably.
	maxMessageSize = 64 * 1024

	sendBufferSize = 64

	minReconnectDelay = 250 * time.Millisecond
)

var (
	ErrNotConnected = errors.New("signaling channel is not connected")
	ErrJoinRejected = errors.New("join-room rejected")
	ErrClosed       = errors.New("signaling channel closed")
)

// Handler receives the raw data of an event. Handlers run on the client's read
// goroutine and must not block.
type Handler func(data json.RawMessage)

// Channel is what the receiver needs from a signaling transport.
type Channel interface {
	Connect(ctx context.Context, url string) error
	JoinRoom(ctx context.Context, req JoinRoom) (JoinAck, error)
	Emit(event string, payload interface{}) error
	On(event string, handler Handler)
	Disconnect()
}

type ClientOptions struct {
	JoinTimeout  time.Duration
	MaxReconnect time.Duration
	Dialer       *websocket.Dialer
}

type Client struct {
	opts ClientOptions

	lock     sync.Mutex
	url      string
	current  *connection
	handlers map[string][]Handler
	pending  map[string]chan json.RawMessage
	lastJoin *JoinRoom
	closed   bool

	quit chan struct{}
}

type connection struct {
	ws   *websocket.Conn
	send chan *Envelope
	done chan struct{}
	once sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

var _ Channel = (*Client)(nil)

func NewClient(opts ClientOptions) *Client {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 5 * time.Second
	}
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	return &Client{
		opts:     opts,
		handlers: make(map[string][]Handler),
		pending:  make(map[string]chan json.RawMessage),
		quit:     make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context, url string) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrClosed
	}
	c.url = url
	c.lock.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)

	return nil
}

func (c *Client) dial(ctx context.Context) (*connection, error) {
	c.lock.Lock()
	url := c.url
	c.lock.Unlock()

	ws, resp, err := c.opts.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return &connection{
		ws:   ws,
		send: make(chan *Envelope, sendBufferSize),
		done: make(chan struct{}),
	}, nil
}

func (c *Client) attach(conn *connection) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		conn.close()
		return
	}
	c.current = conn
	url := c.url
	c.lock.Unlock()

	go c.writePump(conn)

	log.Info().Str("service", "signaling").Str("url", url).Msg("connected")
	// connect is delivered before any inbound event of this connection
	c.dispatch(EventConnect, nil)

	go c.readPump(conn)
}

// JoinRoom sends join-room and waits for the acknowledgement. The request is
// remembered and re-issued after every reconnect.
func (c *Client) JoinRoom(ctx context.Context, req JoinRoom) (JoinAck, error) {
	c.lock.Lock()
	join := req
	c.lastJoin = &join
	c.lock.Unlock()

	return c.join(ctx, req)
}

func (c *Client) join(ctx context.Context, req JoinRoom) (JoinAck, error) {
	var ack JoinAck

	env, err := NewEnvelope(EventJoinRoom, req)
	if err != nil {
		return ack, err
	}
	env.ID = uuid.NewString()

	reply := make(chan json.RawMessage, 1)
	c.lock.Lock()
	c.pending[env.ID] = reply
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.pending, env.ID)
		c.lock.Unlock()
	}()

	if err := c.write(env); err != nil {
		return ack, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()

	select {
	case data := <-reply:
		if err := json.Unmarshal(data, &ack); err != nil {
			return ack, fmt.Errorf("decode join-room ack: %w", err)
		}
	case <-ctx.Done():
		return ack, fmt.Errorf("join-room: %w", ctx.Err())
	}

	if !ack.Success {
		return ack, fmt.Errorf("%w: %s", ErrJoinRejected, ack.Message)
	}

	return ack, nil
}

func (c *Client) Emit(event string, payload interface{}) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	return c.write(env)
}

func (c *Client) write(env *Envelope) error {
	c.lock.Lock()
	conn := c.current
	c.lock.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	select {
	case conn.send <- env:
		return nil
	case <-conn.done:
		return ErrNotConnected
	}
}

func (c *Client) On(event string, handler Handler) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.handlers[event] = append(c.handlers[event], handler)
}

// Disconnect closes the transport for good; no reconnect follows.
func (c *Client) Disconnect() {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	c.closed = true
	conn := c.current
	c.current = nil
	close(c.quit)
	c.lock.Unlock()

	if conn != nil {
		// best effort close frame, the write pump may already be gone
		_ = conn.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.close()
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.lock.Lock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.lock.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (c *Client) readPump(conn *connection) {
	defer c.lost(conn)

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Str("service", "signaling").Err(err).Msg("read failed")
			}
			return
		}

		if env.Ack != "" {
			c.lock.Lock()
			reply, ok := c.pending[env.Ack]
			c.lock.Unlock()
			if ok {
				select {
				case reply <- env.Data:
				default:
				}
			}
			continue
		}

		if env.Event == "" {
			continue
		}

		log.Debug().Str("service", "signaling").Str("event", env.Event).Msg("received")
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.close()
	}()

	for {
		select {
		case env := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(env); err != nil {
				log.Error().Str("service", "signaling").Err(err).Str("event", env.Event).Msg("write failed")
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.done:
			return
		}
	}
}

// lost runs when a connection's read pump exits. Unless the client was shut
// down on purpose it reconnects and re-joins the last room.
func (c *Client) lost(conn *connection) {
	conn.close()

	c.lock.Lock()
	if c.current == conn {
		c.current = nil
	}
	closed := c.closed
	c.lock.Unlock()

	if closed {
		return
	}

	log.Warn().Str("service", "signaling").Msg("connection lost")
	c.dispatch(EventDisconnect, nil)

	go c.reconnect()
}

func (c *Client) reconnect() {
	delay := minReconnectDelay

	for {
		select {
		case <-c.quit:
			return
		case <-time.After(delay):
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			log.Debug().Str("service", "signaling").Err(err).Dur("retry_in", delay).Msg("reconnect failed")
			delay *= 2
			if delay > c.opts.MaxReconnect {
				delay = c.opts.MaxReconnect
			}
			continue
		}

		c.attach(conn)
		c.rejoin()
		return
	}
}

func (c *Client) rejoin() {
	c.lock.Lock()
	last := c.lastJoin
	c.lock.Unlock()

	if last == nil {
		return
	}

	ack, err := c.join(context.Background(), *last)
	if err != nil {
		log.Error().Str("service", "signaling").Err(err).Msg("re-join failed")
		return
	}

	log.Info().Str("service", "signaling").Str("name", ack.Name).Msg("re-joined room")
}
