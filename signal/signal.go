// Package signal defines the signal kinds carried by the engine and the
// operation/delivery records shared between its components.
//
// Every signal kind has a fixed quality-of-service policy:
//
//	Param    confirmed delivery, persisted, no rate limit
//	Event    confirmed delivery, ephemeral
//	Stream   best-effort, ephemeral, rate-limited per subscription
//	Gesture  best-effort, ephemeral, phase-ordered
//	Timeline confirmed commit, persisted
package signal

import (
	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/value"
)

// Type classifies a signal.
type Type int

const (
	// TypeParam is a persistent stateful value with confirmed delivery.
	TypeParam Type = iota
	// TypeEvent is an ephemeral one-shot trigger with confirmed delivery.
	TypeEvent
	// TypeStream is an ephemeral best-effort high-frequency value.
	TypeStream
	// TypeGesture is an ephemeral phased input sequence.
	TypeGesture
	// TypeTimeline is a persistent keyframe automation definition.
	TypeTimeline
)

// String returns the lowercase wire name of the type.
func (t Type) String() string {
	switch t {
	case TypeParam:
		return "param"
	case TypeEvent:
		return "event"
	case TypeStream:
		return "stream"
	case TypeGesture:
		return "gesture"
	case TypeTimeline:
		return "timeline"
	default:
		return "unknown"
	}
}

// ParseType maps a wire name back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "param":
		return TypeParam, nil
	case "event":
		return TypeEvent, nil
	case "stream":
		return TypeStream, nil
	case "gesture":
		return TypeGesture, nil
	case "timeline":
		return TypeTimeline, nil
	default:
		return 0, clasperrors.Invalidf(clasperrors.CodeInvalidValue,
			"unknown signal type %q", s)
	}
}

// Persistent reports whether the kind is stored in the address space.
func (t Type) Persistent() bool {
	return t == TypeParam || t == TypeTimeline
}

// Confirmed reports whether delivery of the kind is acknowledged to the
// sender.
func (t Type) Confirmed() bool {
	return t == TypeParam || t == TypeEvent || t == TypeTimeline
}

// GesturePhase is one step of a gesture's start/move/end sequence.
type GesturePhase int

const (
	// PhaseStart opens a gesture.
	PhaseStart GesturePhase = iota
	// PhaseMove continues an open gesture.
	PhaseMove
	// PhaseEnd closes a gesture.
	PhaseEnd
)

// String returns the lowercase wire name of the phase.
func (p GesturePhase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	default:
		return "unknown"
	}
}

// ParseGesturePhase maps a wire name back to a phase.
func ParseGesturePhase(s string) (GesturePhase, error) {
	switch s {
	case "start":
		return PhaseStart, nil
	case "move":
		return PhaseMove, nil
	case "end":
		return PhaseEnd, nil
	default:
		return 0, clasperrors.Invalidf(clasperrors.CodeInvalidValue,
			"unknown gesture phase %q", s)
	}
}

// Gesture is one phase of a phased input sequence on an address.
type Gesture struct {
	ID      string
	Phase   GesturePhase
	Payload value.Value
}

// Easing selects the interpolation curve between two keyframes.
type Easing string

const (
	EasingLinear    Easing = "linear"
	EasingEaseIn    Easing = "ease-in"
	EasingEaseOut   Easing = "ease-out"
	EasingEaseInOut Easing = "ease-in-out"
	EasingStep      Easing = "step"
)

// Valid reports whether e names a known easing curve. The empty string
// is valid and means linear.
func (e Easing) Valid() bool {
	switch e {
	case "", EasingLinear, EasingEaseIn, EasingEaseOut, EasingEaseInOut, EasingStep:
		return true
	default:
		return false
	}
}

// Keyframe is one point on a timeline, at TimeMs relative to the
// timeline's start.
type Keyframe struct {
	TimeMs int64       `json:"time"`
	Value  value.Value `json:"value"`
	Easing Easing      `json:"easing,omitempty"`
}

// Timeline is a keyframe automation definition. Keyframe times must be
// monotonically non-decreasing.
type Timeline struct {
	DurationMs int64      `json:"duration"`
	Loop       bool       `json:"loop"`
	Keyframes  []Keyframe `json:"keyframes"`
}

// Validate checks duration, keyframe ordering, keyframe bounds, and
// easing names.
func (tl Timeline) Validate() error {
	if tl.DurationMs <= 0 {
		return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
			"timeline duration must be positive, got %dms", tl.DurationMs)
	}
	prev := int64(-1)
	for i, kf := range tl.Keyframes {
		if kf.TimeMs < 0 || kf.TimeMs > tl.DurationMs {
			return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
				"keyframe %d at %dms is outside the timeline duration %dms",
				i, kf.TimeMs, tl.DurationMs)
		}
		if kf.TimeMs < prev {
			return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
				"keyframe %d at %dms precedes keyframe %d at %dms",
				i, kf.TimeMs, i-1, prev)
		}
		if !kf.Easing.Valid() {
			return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
				"keyframe %d has unknown easing %q", i, kf.Easing)
		}
		prev = kf.TimeMs
	}
	return nil
}

// OpKind identifies one operation inside a bundle.
type OpKind int

const (
	// OpSet writes a Param.
	OpSet OpKind = iota
	// OpEmit publishes an Event.
	OpEmit
	// OpStream publishes a Stream sample.
	OpStream
	// OpGesture publishes a Gesture phase.
	OpGesture
	// OpTimelineSet stores a Timeline definition.
	OpTimelineSet
)

// String returns the lowercase wire name of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpEmit:
		return "emit"
	case OpStream:
		return "stream"
	case OpGesture:
		return "gesture"
	case OpTimelineSet:
		return "timeline-set"
	default:
		return "unknown"
	}
}

// SignalType returns the signal kind an operation kind routes as.
func (k OpKind) SignalType() Type {
	switch k {
	case OpSet:
		return TypeParam
	case OpEmit:
		return TypeEvent
	case OpStream:
		return TypeStream
	case OpGesture:
		return TypeGesture
	case OpTimelineSet:
		return TypeTimeline
	default:
		return TypeParam
	}
}

// Operation is one member of a bundle, or a standalone routed command.
type Operation struct {
	Kind    OpKind
	Address string
	Value   value.Value
	// Gesture payload for OpGesture operations.
	Gesture *Gesture
	// Timeline definition for OpTimelineSet operations.
	Timeline *Timeline
	// ExpectedRevision, when non-zero, makes an OpSet optimistic: the
	// write is rejected with REVISION_CONFLICT unless the stored
	// revision still matches.
	ExpectedRevision uint64
}

// Update is one delivery pushed to a subscriber's queue.
type Update struct {
	Address string
	Type    Type
	Value   value.Value
	// Revision is set for persisted kinds (Param, Timeline) and for
	// late-joiner snapshot entries.
	Revision uint64
	// Gesture is set for gesture deliveries.
	Gesture *Gesture
	// Timeline is set for timeline deliveries.
	Timeline *Timeline
	// Timestamp is the logical time the update was dispatched.
	Timestamp clock.Micros
	// Snapshot marks entries of a late-joiner initial sync batch.
	Snapshot bool
	// Deleted marks the removal of a retained address.
	Deleted bool
}
