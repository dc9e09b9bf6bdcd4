package core

import "github.com/dkeye/Chat/internal/domain"

// session implements Session by pairing identity + transport.
type session struct {
	id     ConnID
	user   domain.UserID
	signal SignalConnection
}

func NewSession(id ConnID, user domain.UserID, signal SignalConnection) Session {
	return &session{id: id, user: user, signal: signal}
}

func (s *session) ID() ConnID               { return s.id }
func (s *session) UserID() domain.UserID    { return s.user }
func (s *session) Signal() SignalConnection { return s.signal }
