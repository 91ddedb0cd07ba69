// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 36
	MaxDisplayNameLen   = 36
)

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

type ParticipantID string

// NewParticipantID returns a fresh connection identity.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Participant is one connected socket admitted into a session.
type Participant struct {
	ID        ParticipantID `json:"id"`
	Name      string        `json:"name"`
	SessionID SessionID     `json:"session_id"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, name string, sid SessionID) (*Participant, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Participant{ID: id, Name: name, SessionID: sid}, nil
}

func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrNameTooLong
	}
	return nil
}
