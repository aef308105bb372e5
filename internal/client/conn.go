package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxcord/voxcord/internal/protocol"
)

// Credentials carry the bearer token issued by the identity service.
type Credentials struct {
	Token string
}

// ConnConfig tunes the transport connection.
type ConnConfig struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/api/ws/voice".
	URL string

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// ReconnectAttempts bounds automatic reconnection after an unexpected
	// drop. The delay doubles per attempt starting from ReconnectDelay.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func (c *ConnConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 1
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 500 * time.Millisecond
	}
}

// connection is the coordinator-facing transport contract; *Conn implements
// it, tests substitute a fake.
type connection interface {
	Connect(ctx context.Context, creds Credentials) error
	Disconnect()
	Send(m protocol.Message) error
	Inbound() <-chan protocol.Message
	StatusChanges() <-chan Status
}

// Conn owns the single long-lived websocket to the voice gateway: dialing,
// authentication, the read/write pumps, and automatic reconnection. Inbound
// messages are delivered in arrival order on one channel.
type Conn struct {
	cfg ConnConfig
	log zerolog.Logger

	inbound chan protocol.Message
	status  chan Status

	mu      sync.Mutex
	ws      *websocket.Conn
	send    chan []byte
	state   Status
	creds   Credentials
	closing bool
	cancel  context.CancelFunc // stops the pumps of the current connection
}

func NewConn(cfg ConnConfig, log zerolog.Logger) *Conn {
	cfg.applyDefaults()
	return &Conn{
		cfg:     cfg,
		log:     log.With().Str("module", "client.conn").Logger(),
		inbound: make(chan protocol.Message, 64),
		status:  make(chan Status, 16),
	}
}

func (c *Conn) Inbound() <-chan protocol.Message { return c.inbound }
func (c *Conn) StatusChanges() <-chan Status     { return c.status }

// Connect establishes the transport. Calling while already connected or
// connecting is a no-op.
func (c *Conn) Connect(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if c.state != StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StatusConnecting
	c.closing = false
	c.creds = creds
	c.mu.Unlock()
	c.emit(StatusConnecting)

	ws, err := c.dial(ctx, creds)
	if err != nil {
		c.mu.Lock()
		c.state = StatusDisconnected
		c.mu.Unlock()
		c.emit(StatusDisconnected)
		return err
	}

	if !c.attach(ws) {
		// Disconnect won the race; its status transition already went out.
		return nil
	}
	c.emit(StatusConnected)
	return nil
}

// Disconnect tears the transport down and always succeeds, even if it is
// already down. No reconnect is attempted after an explicit disconnect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StatusDisconnected && c.ws == nil {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.state = StatusDisconnected
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()
	c.emit(StatusDisconnected)
}

// Send enqueues an outbound message. It never blocks; a full send buffer
// reports ErrBackpressure.
func (c *Conn) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	send := c.send
	state := c.state
	c.mu.Unlock()
	if state != StatusConnected || send == nil {
		return ErrNotConnected
	}
	select {
	case send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) dial(ctx context.Context, creds Credentials) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+creds.Token)

	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, hdr)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return ws, nil
}

// attach installs a freshly dialed websocket and starts its pumps. It reports
// false when an explicit Disconnect landed while the dial was in flight; the
// socket is closed instead of attached.
func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, 64)
	c.ws = ws
	c.send = send
	c.cancel = cancel
	c.state = StatusConnected
	c.mu.Unlock()

	go c.writePump(ctx, ws, send)
	go c.readPump(ctx, ws)
	return true
}

func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.onDrop(ws, err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping inbound message")
			continue
		}
		// Blocking send keeps per-connection FIFO order for the dispatcher.
		select {
		case c.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// onDrop runs in the read pump of the connection that just failed. Unless the
// drop was an explicit Disconnect, it attempts reconnection with the same
// credentials; on failure the session is surfaced as disconnected.
func (c *Conn) onDrop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closing || c.ws != ws {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	_ = ws.Close()
	c.ws = nil
	c.state = StatusConnecting
	creds := c.creds
	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("transport dropped, reconnecting")
	c.emit(StatusConnecting)

	delay := c.cfg.ReconnectDelay
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(delay)
		delay *= 2

		c.mu.Lock()
		abandoned := c.closing
		c.mu.Unlock()
		if abandoned {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		next, err := c.dial(ctx, creds)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		if !c.attach(next) {
			return
		}
		c.emit(StatusConnected)
		return
	}

	c.mu.Lock()
	c.state = StatusDisconnected
	c.mu.Unlock()
	c.emit(StatusDisconnected)
}

func (c *Conn) emit(s Status) {
	select {
	case c.status <- s:
	default:
		c.log.Warn().Str("status", s.String()).Msg("status channel full, dropping transition")
	}
}
