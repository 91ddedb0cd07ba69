package domain

import (
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// SessionCapacity is fixed: a session is a two-party grouping.
const SessionCapacity = 2

const MaxSessionIDLen = 64

var (
	ErrSessionFull    = errors.New("session is full")
	ErrSessionIDEmpty = errors.New("session id empty")
	ErrSessionIDLong  = errors.New("session id too long")
)

type SessionID string

// NewSessionID generates a short opaque session id.
func NewSessionID() SessionID {
	return SessionID(strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func (id SessionID) Validate() error {
	if id == "" {
		return ErrSessionIDEmpty
	}
	if len(id) > MaxSessionIDLen {
		return ErrSessionIDLong
	}
	return nil
}

// Session keeps its members in join order.
type Session struct {
	ID      SessionID
	Members []*Participant
}

func NewSession(id SessionID) *Session {
	return &Session{ID: id, Members: make([]*Participant, 0, SessionCapacity)}
}

func (s *Session) IsFull() bool  { return len(s.Members) >= SessionCapacity }
func (s *Session) IsEmpty() bool { return len(s.Members) == 0 }

// Add appends p unless the session is already at capacity.
func (s *Session) Add(p *Participant) error {
	if s.IsFull() {
		return ErrSessionFull
	}
	s.Members = append(s.Members, p)
	return nil
}

func (s *Session) Remove(id ParticipantID) (*Participant, bool) {
	idx := slices.IndexFunc(s.Members, func(p *Participant) bool { return p.ID == id })
	if idx < 0 {
		return nil, false
	}
	p := s.Members[idx]
	s.Members = slices.Delete(s.Members, idx, idx+1)
	return p, true
}

func (s *Session) Member(id ParticipantID) (*Participant, bool) {
	for _, p := range s.Members {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Others returns every member except id.
func (s *Session) Others(id ParticipantID) []*Participant {
	out := make([]*Participant, 0, len(s.Members))
	for _, p := range s.Members {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
