package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxcord/voxcord/internal/domain"
	"github.com/voxcord/voxcord/internal/protocol"
)

// Config tunes the coordinator's transient-state timeouts.
type Config struct {
	JoinTimeout  time.Duration
	LeaveTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.LeaveTimeout == 0 {
		c.LeaveTimeout = 10 * time.Second
	}
}

// pendingJoin tracks the single in-flight join request. Repeated joins for
// the same room coalesce into it; a join for a different room supersedes it.
type pendingJoin struct {
	roomID  domain.RoomID
	waiters []chan error
	timer   *time.Timer
	seq     uint64
	auto    bool // reissued automatically after a reconnect
}

// Coordinator owns the authoritative voice-session state. All state lives in
// a single event-processing goroutine: inbound messages, connection status
// changes, public operations and timeouts are serialized onto one loop, so no
// locks guard the session. Observers receive immutable snapshots.
type Coordinator struct {
	conn  connection
	relay *Relay
	cfg   Config
	log   zerolog.Logger

	tasks   chan func()
	signals chan protocol.SignalDelivery
	done    chan struct{}

	// Everything below is owned by the run loop.
	status     Status
	self       domain.UserID
	selfName   string
	pres       presence
	localMuted bool
	notice     string

	join     *pendingJoin
	joinSeq  uint64
	leaving  *time.Timer
	leaveSeq uint64

	rejoinRoom domain.RoomID

	subs map[string]chan Session
}

func NewCoordinator(conn connection, cfg Config, log zerolog.Logger) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		conn:    conn,
		relay:   NewRelay(log),
		cfg:     cfg,
		log:     log.With().Str("module", "client.coordinator").Logger(),
		tasks:   make(chan func(), 64),
		signals: make(chan protocol.SignalDelivery, 64),
		done:    make(chan struct{}),
		subs:    make(map[string]chan Session),
	}
}

// Start launches the event loop. It returns immediately; the loop runs until
// ctx is canceled.
func (c *Coordinator) Start(ctx context.Context) {
	go c.run(ctx)
	go c.dispatchSignals()
}

// dispatchSignals delivers inbound signaling payloads off the event loop, in
// arrival order, so a handler may call back into the coordinator.
func (c *Coordinator) dispatchSignals() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.signals:
			c.relay.dispatch(m)
		}
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.tasks:
			fn()
		case m, ok := <-c.conn.Inbound():
			if !ok {
				return
			}
			c.handleMessage(m)
		case st := <-c.conn.StatusChanges():
			c.handleStatus(st)
		}
	}
}

func (c *Coordinator) shutdown() {
	close(c.done)
	c.failTransient(ErrClosed)
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.conn.Disconnect()
}

// do runs fn on the event loop and waits for it to complete.
func (c *Coordinator) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.tasks <- func() { fn(); close(ran) }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post schedules fn on the event loop without waiting (used by timers).
func (c *Coordinator) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

// Connect establishes the gateway transport. Idempotent.
func (c *Coordinator) Connect(ctx context.Context, creds Credentials) error {
	return c.conn.Connect(ctx, creds)
}

// Disconnect tears down the transport; presence clears via the status event.
func (c *Coordinator) Disconnect() {
	c.conn.Disconnect()
}

// OnSignal registers the handler for inbound peer signaling payloads.
func (c *Coordinator) OnSignal(fn SignalHandler) {
	c.relay.OnSignal(fn)
}

// JoinVoiceRoom requests membership in roomID and waits for the gateway's
// confirmation, a rejection, or the join timeout. Repeated calls for the same
// room coalesce into the in-flight request; a call for a different room
// supersedes it (the earlier caller gets ErrJoinSuperseded).
func (c *Coordinator) JoinVoiceRoom(ctx context.Context, roomID domain.RoomID) error {
	res := make(chan error, 1)
	if err := c.do(func() { c.joinOnLoop(roomID, res, false) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Coordinator) joinOnLoop(roomID domain.RoomID, res chan error, auto bool) {
	if c.status != StatusConnected {
		res <- ErrNotConnected
		return
	}
	if c.pres.roomID == roomID && c.join == nil {
		res <- nil
		return
	}
	if c.join != nil {
		if c.join.roomID == roomID {
			c.join.waiters = append(c.join.waiters, res)
			return
		}
		// Last write wins: drop intent to join the former room.
		c.resolveJoin(ErrJoinSuperseded)
	}

	c.joinSeq++
	pj := &pendingJoin{roomID: roomID, waiters: []chan error{res}, seq: c.joinSeq, auto: auto}
	seq := pj.seq
	pj.timer = time.AfterFunc(c.cfg.JoinTimeout, func() {
		c.post(func() { c.joinTimedOut(seq) })
	})
	c.join = pj

	if err := c.conn.Send(protocol.JoinRoom{RoomID: roomID}); err != nil {
		c.resolveJoin(err)
		if auto {
			c.notice = "voice session could not be restored after reconnect"
			c.publish()
		}
		return
	}
	c.log.Debug().Str("room", string(roomID)).Bool("auto", auto).Msg("join requested")
}

func (c *Coordinator) joinTimedOut(seq uint64) {
	if c.join == nil || c.join.seq != seq {
		return
	}
	auto := c.join.auto
	c.resolveJoin(ErrJoinTimeout)
	if auto {
		c.notice = "voice session could not be restored after reconnect"
	} else {
		c.notice = "join request timed out"
	}
	c.publish()
}

// resolveJoin settles the in-flight join with err (nil on success) and stops
// its timer.
func (c *Coordinator) resolveJoin(err error) {
	if c.join == nil {
		return
	}
	c.join.timer.Stop()
	for _, w := range c.join.waiters {
		w <- err
	}
	c.join = nil
}

// failTransient aborts any in-flight join or leave with err.
func (c *Coordinator) failTransient(err error) {
	if c.join != nil {
		c.resolveJoin(err)
	}
	c.stopLeaveTimer()
}

// LeaveVoiceRoom leaves the current room. Local state clears immediately;
// the gateway never rejects a leave. No-op when not in a room.
func (c *Coordinator) LeaveVoiceRoom() {
	_ = c.do(func() {
		if c.pres.roomID == "" {
			return
		}
		roomID := c.pres.roomID
		if err := c.conn.Send(protocol.LeaveRoom{RoomID: roomID}); err != nil {
			c.log.Warn().Err(err).Str("room", string(roomID)).Msg("leave request not sent")
		}

		c.leaveSeq++
		seq := c.leaveSeq
		c.stopLeaveTimer()
		c.leaving = time.AfterFunc(c.cfg.LeaveTimeout, func() {
			c.post(func() { c.leaveTimedOut(seq) })
		})

		// Optimistic: leaving must feel instantaneous.
		c.pres = reduce(c.pres, LeftRoom{RoomID: roomID})
		c.localMuted = false
		c.publish()
	})
}

func (c *Coordinator) leaveTimedOut(seq uint64) {
	if c.leaving == nil || c.leaveSeq != seq {
		return
	}
	c.leaving = nil
	// State was already cleared optimistically; the confirmation just never
	// came. Surface it once.
	c.log.Warn().Msg("leave confirmation timed out")
	c.notice = ErrLeaveTimeout.Error()
	c.publish()
}

func (c *Coordinator) stopLeaveTimer() {
	if c.leaving != nil {
		c.leaving.Stop()
		c.leaving = nil
	}
}

// ToggleMute flips the local mute state immediately and notifies the gateway
// asynchronously. No-op when not in a room.
func (c *Coordinator) ToggleMute() {
	_ = c.do(func() {
		if c.pres.roomID == "" {
			c.log.Debug().Err(ErrNotInRoom).Msg("toggle mute ignored")
			return
		}
		c.localMuted = !c.localMuted
		if err := c.conn.Send(protocol.MuteStatus{RoomID: c.pres.roomID, Muted: c.localMuted}); err != nil {
			c.log.Warn().Err(err).Msg("mute status not sent")
		}
		c.publish()
	})
}

// SendSignal forwards an opaque signaling payload to one participant, or to
// the whole room when target is empty. Best-effort: failures are logged, not
// surfaced.
func (c *Coordinator) SendSignal(payload json.RawMessage, target domain.UserID) {
	_ = c.do(func() {
		if c.pres.roomID == "" {
			c.log.Debug().Err(ErrNotInRoom).Msg("signal dropped")
			return
		}
		if err := c.conn.Send(c.relay.wrap(c.pres.roomID, payload, target)); err != nil {
			c.log.Warn().Err(err).Msg("signal not sent")
		}
	})
}

// Subscribe registers an observer. Every state change delivers a full Session
// snapshot; the returned id feeds Unsubscribe. The current state is delivered
// immediately.
func (c *Coordinator) Subscribe() (<-chan Session, string) {
	ch := make(chan Session, 8)
	id := uuid.NewString()
	err := c.do(func() {
		c.subs[id] = ch
		ch <- c.snapshot()
	})
	if err != nil {
		close(ch)
	}
	return ch, id
}

func (c *Coordinator) Unsubscribe(id string) {
	_ = c.do(func() {
		if ch, ok := c.subs[id]; ok {
			close(ch)
			delete(c.subs, id)
		}
	})
}

// Snapshot returns the current session state.
func (c *Coordinator) Snapshot() Session {
	var s Session
	if err := c.do(func() { s = c.snapshot() }); err != nil {
		return Session{Status: StatusDisconnected}
	}
	return s
}

func (c *Coordinator) handleMessage(m protocol.Message) {
	switch msg := m.(type) {
	case protocol.Connected:
		c.self = msg.Identity
		c.selfName = msg.Username
		c.publish()

	case protocol.Joined:
		if c.join != nil && c.join.roomID != msg.RoomID {
			// Response for a superseded join; discard on arrival.
			c.log.Debug().Str("room", string(msg.RoomID)).Msg("discarding stale join confirmation")
			return
		}
		c.resolveJoin(nil)
		c.pres = reduce(c.pres, Joined{RoomID: msg.RoomID, Roster: msg.Roster})
		c.localMuted = false
		c.publish()

	case protocol.Left:
		c.stopLeaveTimer()
		c.pres = reduce(c.pres, LeftRoom{RoomID: msg.RoomID})
		c.publish()

	case protocol.RosterUpdated:
		c.pres = reduce(c.pres, RosterUpdated{RoomID: msg.RoomID, Roster: msg.Roster})
		c.publish()

	case protocol.PeerJoined:
		c.pres = reduce(c.pres, PeerJoined{RoomID: msg.RoomID, Identity: msg.Identity, Username: msg.Username})
		c.publish()

	case protocol.PeerLeft:
		c.pres = reduce(c.pres, PeerLeft{RoomID: msg.RoomID, Identity: msg.Identity})
		c.publish()

	case protocol.MuteStatusChanged:
		if msg.Identity == c.self {
			// The last local intent is authoritative. A stale echo that
			// disagrees is overridden and corrected on the wire.
			if msg.Muted != c.localMuted && c.pres.roomID != "" {
				c.log.Debug().Bool("server", msg.Muted).Bool("local", c.localMuted).Msg("stale mute echo, re-sending local state")
				if err := c.conn.Send(protocol.MuteStatus{RoomID: c.pres.roomID, Muted: c.localMuted}); err != nil {
					c.log.Warn().Err(err).Msg("corrective mute status not sent")
				}
			}
			return
		}
		c.pres = reduce(c.pres, MuteChanged{Identity: msg.Identity, Muted: msg.Muted})
		c.publish()

	case protocol.SignalDelivery:
		select {
		case c.signals <- msg:
		default:
			c.log.Warn().Str("from", string(msg.FromID)).Msg("signal buffer full, dropping")
		}

	case protocol.Error:
		if c.join != nil {
			auto := c.join.auto
			c.resolveJoin(fmt.Errorf("%w: %s", ErrJoinRejected, msg.Message))
			if auto {
				c.notice = "voice session could not be restored after reconnect"
			}
			c.publish()
			return
		}
		c.log.Warn().Str("message", msg.Message).Msg("gateway error")
		c.notice = msg.Message
		c.publish()

	default:
		// Unrecognized variants are a no-op transition, never a crash.
		c.log.Warn().Str("type", string(m.MsgType())).Msg("unhandled message")
	}
}

func (c *Coordinator) handleStatus(st Status) {
	prev := c.status
	c.status = st

	switch st {
	case StatusConnecting:
		if prev == StatusConnected {
			// Unexpected drop: remember the room so a successful reconnect
			// can re-synchronize with a fresh authoritative roster.
			if c.pres.roomID != "" {
				c.rejoinRoom = c.pres.roomID
			}
			c.failTransient(ErrNotConnected)
			c.pres = reduce(c.pres, ConnectionLost{})
			c.localMuted = false
		}
		c.publish()

	case StatusConnected:
		if room := c.rejoinRoom; room != "" {
			c.rejoinRoom = ""
			res := make(chan error, 1)
			c.joinOnLoop(room, res, true)
			go c.watchRejoin(res)
		}
		c.publish()

	case StatusDisconnected:
		c.rejoinRoom = ""
		c.failTransient(ErrNotConnected)
		c.pres = reduce(c.pres, ConnectionLost{})
		c.localMuted = false
		if prev == StatusConnecting {
			c.notice = "disconnected from voice server"
		}
		c.publish()
	}
}

// watchRejoin drains the automatic rejoin's result; rejection and timeout
// notices are raised on the loop by the join paths themselves.
func (c *Coordinator) watchRejoin(res chan error) {
	select {
	case err := <-res:
		if err != nil && !errors.Is(err, ErrJoinSuperseded) {
			c.log.Warn().Err(err).Msg("automatic rejoin failed")
		}
	case <-c.done:
	}
}

// snapshot builds an immutable Session. The local participant's mute flag is
// overlaid with localMuted so the two never diverge in what observers see.
func (c *Coordinator) snapshot() Session {
	s := Session{
		Status:     c.status,
		Self:       c.self,
		SelfName:   c.selfName,
		RoomID:     c.pres.roomID,
		LocalMuted: c.localMuted,
		Notice:     c.notice,
	}
	if len(c.pres.participants) > 0 {
		s.Participants = make(map[domain.UserID]domain.Participant, len(c.pres.participants))
		for id, p := range c.pres.participants {
			if id == c.self {
				p.Muted = c.localMuted
			}
			s.Participants[id] = p
		}
	}
	return s
}

// publish fans the current snapshot out to all observers. The notice field is
// one-shot: it rides exactly one snapshot.
func (c *Coordinator) publish() {
	s := c.snapshot()
	c.notice = ""
	for id, ch := range c.subs {
		select {
		case ch <- s:
		default:
			c.log.Warn().Str("subscriber", id).Msg("slow observer, dropping snapshot")
		}
	}
}
