package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/session"
)

// LoginRequest is the body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ConfigResponse is returned by GET /api/v1/config.
type ConfigResponse struct {
	Config    *config.Config `json:"config"`
	AIEnabled bool           `json:"ai_enabled"`
}

// handleGetConfig returns the running configuration. Secrets are excluded
// via json:"-" tags.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, ConfigResponse{Config: s.cfg, AIEnabled: s.assessor.AIEnabled()})
}

// handleGetConfigKeys returns the masked status of every credential.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeOK(w, config.CheckAPIKeys(s.cfg))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend is not configured")
		return
	}
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := s.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.sessions.Save(r.Context(), session.Session{Token: res.AuthToken, User: res.User}); err != nil {
		s.writeErr(w, err)
		return
	}
	s.log.Info("logged in", zap.String("user", res.User.Email))
	writeOK(w, res.User)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Clear(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, map[string]bool{"logged_out": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cur := s.sessions.Current()
	if cur == nil {
		s.writeErr(w, session.ErrNoSession)
		return
	}
	writeOK(w, map[string]interface{}{
		"user":       cur.User,
		"expires_at": cur.ExpiresAt,
	})
}
