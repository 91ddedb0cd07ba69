package app

import "github.com/dkeye/Cowatch/internal/domain"

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
	}
	return "none"
}

// Policy decides what happens to a member whose send queue is full.
// misses counts consecutive failed deliveries to that member.
type Policy interface {
	OnBackPressure(sess *domain.Session, pid domain.ParticipantID, misses int) BackpressureAction
}

// SimplePolicy kicks on the first miss.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*domain.Session, domain.ParticipantID, int) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops frames for a slow member and kicks after Limit misses.
type TolerantPolicy struct {
	Limit int
}

func (p TolerantPolicy) OnBackPressure(_ *domain.Session, _ domain.ParticipantID, misses int) BackpressureAction {
	if misses >= p.Limit {
		return KickMember
	}
	if misses == 1 {
		return MarkSlow
	}
	return DropFrame
}
