package app

import (
	"cmp"
	"errors"
	"slices"

	"github.com/dkeye/Cowatch/internal/core"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyJoined = errors.New("participant already in a session")

// Directory is the in-memory registry of sessions and their members.
// It is not safe for concurrent use: only the Hub loop touches it.
type Directory struct {
	sessions map[domain.SessionID]*domain.Session
	members  map[domain.ParticipantID]*domain.Participant
}

func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[domain.SessionID]*domain.Session),
		members:  make(map[domain.ParticipantID]*domain.Participant),
	}
}

// Join admits pid into sid, creating the session on first use.
// A rejected join leaves the directory untouched.
func (d *Directory) Join(pid domain.ParticipantID, sid domain.SessionID, name string) (*domain.Participant, error) {
	if err := sid.Validate(); err != nil {
		return nil, err
	}
	if _, ok := d.members[pid]; ok {
		return nil, ErrAlreadyJoined
	}
	p, err := domain.NewParticipant(pid, name, sid)
	if err != nil {
		return nil, err
	}

	sess, ok := d.sessions[sid]
	if ok && sess.IsFull() {
		log.Debug().Str("module", "app.directory").Str("session", string(sid)).Msg("join rejected: full")
		return nil, domain.ErrSessionFull
	}
	if !ok {
		sess = domain.NewSession(sid)
	}
	if err := sess.Add(p); err != nil {
		return nil, err
	}
	d.sessions[sid] = sess
	d.members[pid] = p
	log.Info().Str("module", "app.directory").Str("session", string(sid)).Str("pid", string(pid)).Int("members", len(sess.Members)).Msg("joined")
	return p, nil
}

// CanJoin reports the error Join(pid, sid, name) would return once pid has
// left its current session. It changes nothing.
func (d *Directory) CanJoin(pid domain.ParticipantID, sid domain.SessionID, name string) error {
	if err := sid.Validate(); err != nil {
		return err
	}
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	sess, ok := d.sessions[sid]
	if !ok {
		return nil
	}
	if _, member := sess.Member(pid); member {
		return nil
	}
	if sess.IsFull() {
		return domain.ErrSessionFull
	}
	return nil
}

// Leave removes pid and returns it together with the members left behind.
// The session is dropped once it is empty.
func (d *Directory) Leave(pid domain.ParticipantID) (*domain.Participant, []*domain.Participant, bool) {
	p, ok := d.members[pid]
	if !ok {
		return nil, nil, false
	}
	delete(d.members, pid)

	sess, ok := d.sessions[p.SessionID]
	if !ok {
		return p, nil, true
	}
	sess.Remove(pid)
	if sess.IsEmpty() {
		delete(d.sessions, sess.ID)
		log.Info().Str("module", "app.directory").Str("session", string(sess.ID)).Msg("session removed")
		return p, nil, true
	}
	return p, slices.Clone(sess.Members), true
}

func (d *Directory) Participant(pid domain.ParticipantID) (*domain.Participant, bool) {
	p, ok := d.members[pid]
	return p, ok
}

func (d *Directory) Session(sid domain.SessionID) (*domain.Session, bool) {
	s, ok := d.sessions[sid]
	return s, ok
}

// SessionOf returns the session pid currently belongs to.
func (d *Directory) SessionOf(pid domain.ParticipantID) (*domain.Session, bool) {
	p, ok := d.members[pid]
	if !ok {
		return nil, false
	}
	return d.Session(p.SessionID)
}

func (d *Directory) Len() int { return len(d.sessions) }

// Snapshot returns a copy of every session, ordered by id.
func (d *Directory) Snapshot() []core.SessionInfo {
	out := make([]core.SessionInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, sessionInfo(s))
	}
	slices.SortFunc(out, func(a, b core.SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func sessionInfo(s *domain.Session) core.SessionInfo {
	members := make([]core.MemberDTO, 0, len(s.Members))
	for _, p := range s.Members {
		members = append(members, core.MemberDTO{ID: p.ID, Name: p.Name})
	}
	return core.SessionInfo{
		ID:          s.ID,
		MemberCount: len(s.Members),
		Full:        s.IsFull(),
		Members:     members,
	}
}
