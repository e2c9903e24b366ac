package gateway

import (
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/value"
)

// Frame type discriminators. Commands flow client to server; the
// server answers with acks, updates, and errors.
const (
	// Client commands
	FrameHello       = "hello"
	FrameSet         = "set"
	FrameEmit        = "emit"
	FrameStream      = "stream"
	FrameGesture     = "gesture"
	FrameTimeline    = "timeline"
	FrameDelete      = "delete"
	FrameBundle      = "bundle"
	FrameSubscribe   = "sub"
	FrameUnsubscribe = "unsub"
	FrameGet         = "get"
	FrameSnapshot    = "snapshot"
	FrameTime        = "time"
	FramePing        = "ping"

	// Server frames
	FrameWelcome  = "welcome"
	FrameAck      = "ack"
	FrameUpdate   = "update"
	FrameError    = "error"
	FramePong     = "pong"
	FrameTimeInfo = "time_info"
)

// OperationFrame is one operation inside a bundle command.
type OperationFrame struct {
	// Op is "set", "emit", "stream", "gesture", or "timeline".
	Op        string           `json:"op"`
	Address   string           `json:"address"`
	Value     value.Value      `json:"value,omitempty"`
	Revision  uint64           `json:"revision,omitempty"`
	GestureID string           `json:"gesture_id,omitempty"`
	Phase     string           `json:"phase,omitempty"`
	Timeline  *signal.Timeline `json:"timeline,omitempty"`
}

// CommandFrame is one client-to-server message.
type CommandFrame struct {
	Type string `json:"type"`
	// Seq correlates acks and errors back to the command. 0 means the
	// client does not want a reply correlation.
	Seq uint64 `json:"seq,omitempty"`

	// hello
	Name       string `json:"name,omitempty"`
	Token      string `json:"token,omitempty"`
	ClientTime int64  `json:"client_time,omitempty"`

	// signal commands
	Address   string           `json:"address,omitempty"`
	Value     value.Value      `json:"value,omitempty"`
	Revision  uint64           `json:"revision,omitempty"`
	GestureID string           `json:"gesture_id,omitempty"`
	Phase     string           `json:"phase,omitempty"`
	Timeline  *signal.Timeline `json:"timeline,omitempty"`

	// sub/unsub
	Pattern string   `json:"pattern,omitempty"`
	Handle  string   `json:"handle,omitempty"`
	Types   []string `json:"types,omitempty"`
	MaxRate float64  `json:"max_rate,omitempty"`

	// bundle
	At         int64            `json:"at,omitempty"`
	Operations []OperationFrame `json:"operations,omitempty"`
}

// UpdateFrame carries one delivery or snapshot entry to the client.
type UpdateFrame struct {
	Type      string           `json:"type"`
	Address   string           `json:"address"`
	Signal    string           `json:"signal"`
	Value     value.Value      `json:"value,omitempty"`
	Revision  uint64           `json:"revision,omitempty"`
	GestureID string           `json:"gesture_id,omitempty"`
	Phase     string           `json:"phase,omitempty"`
	Timeline  *signal.Timeline `json:"timeline,omitempty"`
	Timestamp int64            `json:"timestamp"`
	Snapshot  bool             `json:"snapshot,omitempty"`
	Deleted   bool             `json:"deleted,omitempty"`
}

// ReplyFrame is every non-update server response: welcome, acks,
// errors, pongs, and time info.
type ReplyFrame struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`

	// welcome
	SessionID string `json:"session_id,omitempty"`

	// ack
	Revision uint64 `json:"revision,omitempty"`
	Handle   string `json:"handle,omitempty"`

	// snapshot replies
	Entries []UpdateFrame `json:"entries,omitempty"`

	// time
	ServerTime int64 `json:"server_time,omitempty"`
	ClientTime int64 `json:"client_time,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Address string `json:"address,omitempty"`
}

// operation converts a bundle member into its engine form.
func (f OperationFrame) operation() (signal.Operation, error) {
	switch f.Op {
	case "set":
		return signal.Operation{
			Kind:             signal.OpSet,
			Address:          f.Address,
			Value:            f.Value,
			ExpectedRevision: f.Revision,
		}, nil
	case "emit":
		return signal.Operation{Kind: signal.OpEmit, Address: f.Address, Value: f.Value}, nil
	case "stream":
		return signal.Operation{Kind: signal.OpStream, Address: f.Address, Value: f.Value}, nil
	case "gesture":
		phase, err := signal.ParseGesturePhase(f.Phase)
		if err != nil {
			return signal.Operation{}, err
		}
		return signal.Operation{
			Kind:    signal.OpGesture,
			Address: f.Address,
			Gesture: &signal.Gesture{ID: f.GestureID, Phase: phase, Payload: f.Value},
		}, nil
	case "timeline":
		if f.Timeline == nil {
			return signal.Operation{}, clasperrors.New(clasperrors.CodeInvalidValue,
				"timeline operation without timeline")
		}
		return signal.Operation{Kind: signal.OpTimelineSet, Address: f.Address, Timeline: f.Timeline}, nil
	default:
		return signal.Operation{}, clasperrors.Newf(clasperrors.CodeInvalidValue,
			"unknown bundle operation %q", f.Op)
	}
}

// updateFrame converts an engine delivery into its wire form.
func updateFrame(u signal.Update) UpdateFrame {
	f := UpdateFrame{
		Type:      FrameUpdate,
		Address:   u.Address,
		Signal:    u.Type.String(),
		Value:     u.Value,
		Revision:  u.Revision,
		Timeline:  u.Timeline,
		Timestamp: int64(u.Timestamp),
		Snapshot:  u.Snapshot,
		Deleted:   u.Deleted,
	}
	if u.Gesture != nil {
		f.GestureID = u.Gesture.ID
		f.Phase = u.Gesture.Phase.String()
	}
	return f
}
