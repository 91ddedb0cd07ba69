package http

import (
	"net/http"

	"github.com/dkeye/Cowatch/internal/core"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/gin-gonic/gin"
)

type sessionHandlers struct {
	query core.SessionQuery
}

// GET /api/sessions
func (h sessionHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.query.Sessions()})
}

// POST /api/sessions hands out a fresh id. The session itself only comes
// into existence on the first join.
func (h sessionHandlers) create(c *gin.Context) {
	id := domain.NewSessionID()
	for {
		if _, taken := h.query.Session(id); !taken {
			break
		}
		id = domain.NewSessionID()
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// GET /api/sessions/:id
func (h sessionHandlers) get(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if err := id.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, ok := h.query.Session(id)
	if !ok {
		// an unknown id is simply an empty session
		c.JSON(http.StatusOK, core.SessionInfo{ID: id, Members: []core.MemberDTO{}})
		return
	}
	c.JSON(http.StatusOK, info)
}
