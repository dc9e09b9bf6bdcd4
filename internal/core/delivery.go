package core

import "github.com/dkeye/Chat/internal/domain"

// Delivery describes one fan-out: the event, the channels whose
// subscribers receive it, and who is skipped. Everyone targets every live
// session regardless of channels.
type Delivery struct {
	Event    Event
	Channels []ChannelID
	Everyone bool
	SkipUser domain.UserID
	SkipConn ConnID
}

// Skips reports whether s is excluded from d.
func (d Delivery) Skips(s Session) bool {
	if d.SkipConn != "" && s.ID() == d.SkipConn {
		return true
	}
	return d.SkipUser != "" && s.UserID() == d.SkipUser
}
