package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/session"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/state"
	"github.com/lumencanvas/clasp/subscription"
)

// client is one WebSocket connection bound to an engine session.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	logger *slog.Logger

	sess *session.Session

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newClient(srv *Server, conn *websocket.Conn) *client {
	return &client{
		srv:    srv,
		conn:   conn,
		logger: srv.logger.With("remote", conn.RemoteAddr().String()),
		done:   make(chan struct{}),
	}
}

// run drives the connection: handshake, then the read loop, with the
// update pump and keepalive pings in companion goroutines.
func (c *client) run() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if !c.handshake() {
		c.close("handshake_failed")
		return
	}

	go c.pumpUpdates()
	go c.keepalive()

	for {
		var cmd CommandFrame
		if err := c.conn.ReadJSON(&cmd); err != nil {
			reason := "read_error"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "client_closed"
			}
			c.close(reason)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.srv.metrics.recordFrameReceived(cmd.Type)
		c.handle(cmd)
	}
}

// handshake reads the hello frame and admits the session.
func (c *client) handshake() bool {
	var hello CommandFrame
	if err := c.conn.ReadJSON(&hello); err != nil {
		return false
	}
	c.srv.metrics.recordFrameReceived(hello.Type)
	if hello.Type != FrameHello {
		c.writeError(hello.Seq, clasperrors.New(clasperrors.CodeAuthRequired, "first frame must be hello"))
		return false
	}

	sess, err := c.srv.eng.Connect(hello.Name, hello.Token)
	if err != nil {
		c.writeError(hello.Seq, err)
		return false
	}
	c.sess = sess
	c.logger = c.logger.With("session", sess.ID())

	serverTime := c.srv.eng.Time()
	if hello.ClientTime != 0 {
		sess.SetClockOffset(clock.Micros(hello.ClientTime) - serverTime)
	}
	c.writeJSON(ReplyFrame{
		Type:       FrameWelcome,
		Seq:        hello.Seq,
		SessionID:  sess.ID(),
		ServerTime: int64(serverTime),
	})
	return true
}

func (c *client) handle(cmd CommandFrame) {
	switch cmd.Type {
	case FrameSet:
		var (
			rev uint64
			err error
		)
		if cmd.Revision != 0 {
			rev, err = c.srv.eng.SetWithRevision(c.sess, cmd.Address, cmd.Value, cmd.Revision)
		} else {
			rev, err = c.srv.eng.Set(c.sess, cmd.Address, cmd.Value)
		}
		c.reply(cmd.Seq, ReplyFrame{Type: FrameAck, Seq: cmd.Seq, Revision: rev}, err)

	case FrameEmit:
		err := c.srv.eng.Emit(c.sess, cmd.Address, cmd.Value)
		c.reply(cmd.Seq, ReplyFrame{Type: FrameAck, Seq: cmd.Seq}, err)

	case FrameStream:
		// Streams are lossy fire-and-forget; only errors are reported.
		if err := c.srv.eng.Stream(c.sess, cmd.Address, cmd.Value); err != nil {
			c.writeError(cmd.Seq, err)
		}

	case FrameGesture:
		phase, err := signal.ParseGesturePhase(cmd.Phase)
		if err == nil {
			g := &signal.Gesture{ID: cmd.GestureID, Phase: phase, Payload: cmd.Value}
			err = c.srv.eng.Gesture(c.sess, cmd.Address, g)
		}
		c.reply(cmd.Seq, ReplyFrame{Type: FrameAck, Seq: cmd.Seq}, err)

	case FrameTimeline:
		if cmd.Timeline == nil {
			c.writeError(cmd.Seq, clasperrors.New(clasperrors.CodeInvalidValue, "timeline command without timeline"))
			return
		}
		rev, err := c.srv.eng.SetTimeline(c.sess, cmd.Address, cmd.Timeline)
		c.reply(cmd.Seq, ReplyFrame{Type: FrameAck, Seq: cmd.Seq, Revision: rev}, err)

	case FrameBundle:
		ops := make([]signal.Operation, 0, len(cmd.Operations))
		for _, f := range cmd.Operations {
			op, err := f.operation()
			if err != nil {
				c.writeError(cmd.Seq, err)
				return
			}
			ops = append(ops, op)
		}
		err := c.srv.eng.Bundle(c.sess, ops, clock.Micros(cmd.At))
		c.reply(cmd.Seq, ReplyFrame{Type: FrameAck, Seq: cmd.Seq}, err)

	case FrameSubscribe:
		opts := subscription.Options{MaxRate: cmd.MaxRate}
		for _, name := range cmd.Types {
			st, err := signal.ParseType(name)
			if err != nil {
				c.writeError(cmd.Seq, err)
				return
			}
			opts.Types = append(opts.Types, st)
		}
		sub, err := c.srv.eng.Subscribe(c.sess, cmd.Pattern, opts)
		if err != nil {
			c.writeError(cmd.Seq, err)
			return
		}
		c.writeJSON(ReplyFrame{Type: FrameAck, Seq: cmd.Seq, Handle: sub.Handle()})

	case FrameUnsubscribe:
		if cmd.Handle != "" {
			c.srv.eng.Unsubscribe(c.sess, cmd.Handle)
		} else {
			c.srv.eng.UnsubscribePattern(c.sess, cmd.Pattern)
		}
		c.writeJSON(ReplyFrame{Type: FrameAck, Seq: cmd.Seq})

	case FrameDelete:
		_, err := c.srv.eng.Delete(c.sess, cmd.Address)
		c.reply(cmd.Seq, ReplyFrame{Type: FrameAck, Seq: cmd.Seq}, err)

	case FrameGet:
		entry, ok, err := c.srv.eng.GetFor(c.sess, cmd.Address)
		if err != nil {
			c.writeError(cmd.Seq, err)
			return
		}
		var entries []UpdateFrame
		if ok {
			entries = append(entries, entryFrame(entry))
		}
		c.writeJSON(ReplyFrame{Type: FrameSnapshot, Seq: cmd.Seq, Entries: entries})

	case FrameSnapshot:
		stateEntries, err := c.srv.eng.SnapshotFor(c.sess, cmd.Pattern)
		if err != nil {
			c.writeError(cmd.Seq, err)
			return
		}
		entries := make([]UpdateFrame, 0, len(stateEntries))
		for _, entry := range stateEntries {
			entries = append(entries, entryFrame(entry))
		}
		c.writeJSON(ReplyFrame{Type: FrameSnapshot, Seq: cmd.Seq, Entries: entries})

	case FrameTime:
		serverTime := c.srv.eng.Time()
		if cmd.ClientTime != 0 {
			c.sess.SetClockOffset(clock.Micros(cmd.ClientTime) - serverTime)
		}
		c.writeJSON(ReplyFrame{
			Type:       FrameTimeInfo,
			Seq:        cmd.Seq,
			ServerTime: int64(serverTime),
			ClientTime: cmd.ClientTime,
		})

	case FramePing:
		c.writeJSON(ReplyFrame{Type: FramePong, Seq: cmd.Seq, ServerTime: int64(c.srv.eng.Time())})

	case FrameHello:
		c.writeError(cmd.Seq, clasperrors.New(clasperrors.CodeInvalidValue, "session already established"))

	default:
		c.writeError(cmd.Seq, clasperrors.Newf(clasperrors.CodeInvalidValue, "unknown frame type %q", cmd.Type))
	}
}

// reply sends the ack on success or the error frame on failure.
func (c *client) reply(seq uint64, ack ReplyFrame, err error) {
	if err != nil {
		c.writeError(seq, err)
		return
	}
	c.writeJSON(ack)
}

// pumpUpdates forwards the session's delivery queue to the socket.
func (c *client) pumpUpdates() {
	for {
		select {
		case <-c.done:
			return
		case u, ok := <-c.sess.Updates():
			if !ok {
				c.close("session_closed")
				return
			}
			c.writeJSON(updateFrame(u))
		}
	}
}

// keepalive sends protocol-level pings so intermediaries keep the
// connection open.
func (c *client) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.close("ping_failed")
				return
			}
		}
	}
}

func (c *client) writeJSON(frame any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		c.logger.Debug("write failed", "error", err)
		return
	}
	switch f := frame.(type) {
	case ReplyFrame:
		c.srv.metrics.recordFrameSent(f.Type)
	case UpdateFrame:
		c.srv.metrics.recordFrameSent(f.Type)
	}
}

func (c *client) writeError(seq uint64, err error) {
	frame := ReplyFrame{
		Type:    FrameError,
		Seq:     seq,
		Code:    string(clasperrors.CodeOf(err)),
		Message: err.Error(),
	}
	var classified *clasperrors.Error
	if clasperrors.As(err, &classified) {
		frame.Address = classified.Address
	}
	c.srv.metrics.recordError(frame.Code)
	c.writeJSON(frame)
}

// close tears the connection down exactly once, disconnecting the
// engine session so its gestures end and its subscriptions drop.
func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sess != nil {
			c.srv.eng.Disconnect(c.sess.ID())
		}
		_ = c.conn.Close()
		c.srv.dropClient(c, reason)
		c.logger.Debug("client closed", "reason", reason)
	})
}

// entryFrame converts a retained entry into a snapshot update frame.
func entryFrame(entry state.Entry) UpdateFrame {
	signalType := signal.TypeParam
	if entry.Timeline != nil {
		signalType = signal.TypeTimeline
	}
	return UpdateFrame{
		Type:      FrameUpdate,
		Address:   entry.Address,
		Signal:    signalType.String(),
		Value:     entry.Value,
		Revision:  entry.Revision,
		Timeline:  entry.Timeline,
		Timestamp: int64(entry.Timestamp),
		Snapshot:  true,
	}
}
