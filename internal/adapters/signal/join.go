package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Cowatch/internal/protocol"
	"github.com/go-playground/validator/v10"
)

type joinPayload struct {
	SessionID string `validate:"required,max=64,printascii"`
	Name      string `validate:"required,max=36"`
}

func (ctl *SignalWSController) validateJoin(m *protocol.Message) error {
	p := joinPayload{
		SessionID: string(m.SessionID),
		Name:      strings.TrimSpace(m.Name),
	}
	if err := ctl.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s: %s", fieldName(verrs[0].Field()), verrs[0].Tag())
		}
		return err
	}
	m.Name = p.Name
	return nil
}

func fieldName(f string) string {
	switch f {
	case "SessionID":
		return "session_id"
	case "Name":
		return "name"
	}
	return f
}
