package core

import "github.com/dkeye/Cowatch/internal/domain"

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Missing int
	Dropped []domain.ParticipantID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.ParticipantID `json:"id"`
	Name string               `json:"name"`
}

type SessionInfo struct {
	ID          domain.SessionID `json:"id"`
	MemberCount int              `json:"member_count"`
	Full        bool             `json:"full"`
	Members     []MemberDTO      `json:"members,omitempty"`
}

// SessionQuery is the read side of the relay exposed to REST handlers.
type SessionQuery interface {
	Sessions() []SessionInfo
	Session(id domain.SessionID) (SessionInfo, bool)
}
