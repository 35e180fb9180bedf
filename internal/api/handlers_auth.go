// https://github.com/relaysync/core

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/goccy/go-json"
)

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/login: exchanges the single configured
// operator credential pair for a dashboard session token. Rate limited
// by the dashboard auth limiter to slow down credential guessing.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.Auth.Username)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.Auth.Password)) == 1
	if !usernameOK || !passwordOK {
		rw.Unauthorized("invalid credentials")
		return
	}

	token, err := h.jwtManager.GenerateToken(req.Username)
	if err != nil {
		rw.InternalError(err)
		return
	}

	rw.Success(map[string]string{"token": token})
}
