package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/voxcord/voxcord/internal/config"
	"github.com/voxcord/voxcord/internal/domain"
	"github.com/voxcord/voxcord/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the voice websocket endpoint: one connection per client,
// read/write pumps, and protocol message handling.
type Controller struct {
	Registry *Registry
	Rooms    *Rooms
	cfg      *config.Config
}

func NewController(cfg *config.Config) *Controller {
	return &Controller{
		Registry: NewRegistry(),
		Rooms:    NewRooms(),
		cfg:      cfg,
	}
}

type clientConn struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func (c *clientConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *clientConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleVoice upgrades an authenticated request and runs the session until
// the connection drops.
func (ctl *Controller) HandleVoice(ctx context.Context, c *gin.Context) {
	user := &domain.User{
		ID:       domain.UserID(c.GetString("user_id")),
		Username: c.GetString("username"),
	}
	sid := SessionID(uuid.NewString())
	log.Info().Str("module", "gateway.ws").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new voice connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway.ws").Msg("ws upgrade")
		return
	}

	conn := &clientConn{
		conn:    ws,
		send:    make(chan []byte, 32),
		limiter: rate.NewLimiter(rate.Limit(ctl.cfg.SignalRate), ctl.cfg.SignalBurst),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, user, conn, cancel)

	ctl.sendMsg(conn, protocol.Connected{Identity: user.ID, Username: user.Username})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *clientConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "gateway.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "gateway.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid SessionID, c *clientConn) {
	defer func() {
		log.Info().Str("module", "gateway.ws").Str("sid", string(sid)).Msg("readPump closing")
		ctl.onDisconnect(sid)
		c.Close()
	}()

	pongWait := ctl.cfg.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ctl.handleMessage(sid, c, data)
	}
}

func (ctl *Controller) handleMessage(sid SessionID, c *clientConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "gateway.ws").Str("sid", string(sid)).Msg("dropping message")
		return
	}

	switch m := msg.(type) {
	case protocol.JoinRoom:
		ctl.handleJoin(sid, c, m)
	case protocol.LeaveRoom:
		ctl.handleLeave(sid, c, m)
	case protocol.MuteStatus:
		ctl.handleMute(sid, m)
	case protocol.Signal:
		ctl.handleSignal(sid, c, m)
	default:
		log.Warn().Str("module", "gateway.ws").Str("type", string(msg.MsgType())).Msg("unexpected message from client")
	}
}

func (ctl *Controller) handleJoin(sid SessionID, c *clientConn, m protocol.JoinRoom) {
	if m.RoomID == "" {
		ctl.sendMsg(c, protocol.Error{Message: "missing roomId"})
		return
	}
	user, ok := ctl.Registry.User(sid)
	if !ok {
		return
	}

	// At most one room per session: a new join implicitly leaves the old one.
	if prev, ok := ctl.Registry.RoomOf(sid); ok && prev != m.RoomID {
		ctl.removeFromRoom(sid, user, prev)
	}

	roster := ctl.Rooms.Add(m.RoomID, sid, user, c)
	ctl.Registry.SetRoom(sid, m.RoomID)
	log.Info().Str("module", "gateway.ws").Str("sid", string(sid)).Str("room", string(m.RoomID)).Msg("joined room")

	ctl.sendMsg(c, protocol.Joined{RoomID: m.RoomID, Roster: roster})
	ctl.broadcast(m.RoomID, sid, protocol.PeerJoined{RoomID: m.RoomID, Identity: user.ID, Username: user.Username})
	ctl.broadcast(m.RoomID, sid, protocol.RosterUpdated{RoomID: m.RoomID, Roster: roster})
}

func (ctl *Controller) handleLeave(sid SessionID, c *clientConn, m protocol.LeaveRoom) {
	user, ok := ctl.Registry.User(sid)
	if !ok {
		return
	}
	roomID, ok := ctl.Registry.RoomOf(sid)
	if !ok || (m.RoomID != "" && m.RoomID != roomID) {
		return
	}
	ctl.removeFromRoom(sid, user, roomID)
	ctl.sendMsg(c, protocol.Left{RoomID: roomID})
}

// removeFromRoom takes the session out of roomID and tells the remaining
// members.
func (ctl *Controller) removeFromRoom(sid SessionID, user *domain.User, roomID domain.RoomID) {
	if !ctl.Rooms.Remove(roomID, sid) {
		return
	}
	ctl.Registry.ClearRoom(sid)
	ctl.broadcast(roomID, sid, protocol.PeerLeft{RoomID: roomID, Identity: user.ID})
	if roster := ctl.Rooms.Roster(roomID); len(roster) > 0 {
		ctl.broadcast(roomID, sid, protocol.RosterUpdated{RoomID: roomID, Roster: roster})
	}
}

func (ctl *Controller) handleMute(sid SessionID, m protocol.MuteStatus) {
	roomID, ok := ctl.Registry.RoomOf(sid)
	if !ok || (m.RoomID != "" && m.RoomID != roomID) {
		return
	}
	identity, ok := ctl.Rooms.SetMuted(roomID, sid, m.Muted)
	if !ok {
		return
	}
	ctl.broadcast(roomID, "", protocol.MuteStatusChanged{Identity: identity, Muted: m.Muted})
}

func (ctl *Controller) handleSignal(sid SessionID, c *clientConn, m protocol.Signal) {
	if !c.limiter.Allow() {
		log.Warn().Str("module", "gateway.ws").Str("sid", string(sid)).Msg("signal rate limited")
		return
	}
	user, ok := ctl.Registry.User(sid)
	if !ok {
		return
	}
	roomID, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		return
	}

	out := protocol.SignalDelivery{Payload: m.Payload, FromID: user.ID}
	if m.TargetID != "" {
		data, err := protocol.Encode(out)
		if err != nil {
			return
		}
		if !ctl.Rooms.SendToUser(roomID, m.TargetID, data) {
			log.Debug().Str("module", "gateway.ws").Str("target", string(m.TargetID)).Msg("signal target not in room")
		}
		return
	}
	ctl.broadcast(roomID, sid, out)
}

func (ctl *Controller) onDisconnect(sid SessionID) {
	if user, ok := ctl.Registry.User(sid); ok {
		if roomID, ok := ctl.Registry.RoomOf(sid); ok {
			ctl.removeFromRoom(sid, user, roomID)
		}
	}
	ctl.Registry.Unbind(sid)
}

func (ctl *Controller) sendMsg(c *clientConn, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway.ws").Msg("encode")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "gateway.ws").Msg("send drop")
	}
}

func (ctl *Controller) broadcast(roomID domain.RoomID, exclude SessionID, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway.ws").Msg("encode")
		return
	}
	ctl.Rooms.Broadcast(roomID, exclude, data)
}
