package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Lobby memory: the last display name and session id a browser used, plus
// a one-shot notice shown after a session ends.

type lobbyRequest struct {
	Name      string `json:"name" binding:"required,max=36"`
	SessionID string `json:"session_id" binding:"required,max=64,printascii"`
}

type lobbyState struct {
	Name      string   `json:"name"`
	SessionID string   `json:"session_id"`
	Messages  []string `json:"messages"`
}

func getLobby(c *gin.Context) {
	s := sessions.Default(c)
	state := lobbyState{Messages: []string{}}
	state.Name, _ = s.Get("name").(string)
	state.SessionID, _ = s.Get("session_id").(string)
	for _, f := range s.Flashes() {
		if msg, ok := f.(string); ok {
			state.Messages = append(state.Messages, msg)
		}
	}
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("lobby save")
	}
	c.JSON(http.StatusOK, state)
}

func postLobby(c *gin.Context) {
	var req lobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.Set("name", req.Name)
	s.Set("session_id", req.SessionID)
	if err := s.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save lobby"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":       req.Name,
		"session_id": req.SessionID,
		"room_url":   "/room/" + req.SessionID,
	})
}

// POST /api/lobby/ended stores the notice the lobby shows on the next visit.
func postEnded(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.AddFlash(req.Message)
	if err := s.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save lobby"})
		return
	}
	c.Status(http.StatusNoContent)
}
