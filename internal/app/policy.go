package app

import "github.com/dkeye/Chat/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what happens to a subscriber whose send queue is full.
type Policy interface {
	OnBackPressure(ev core.EventType, s core.Session) BackpressureAction
}

// SimplePolicy drops typing frames and kicks the subscriber for everything
// else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(ev core.EventType, _ core.Session) BackpressureAction {
	if ev == core.TypeUserTyping {
		return DropFrame
	}
	return KickMember
}
