package handler

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	mid "github.com/hwalton/brickstock/internal/middleware"
	"github.com/hwalton/brickstock/internal/utils"
	"github.com/hwalton/brickstock/pkg/supabasetoolbox"
)

const (
	refreshTokenCookie = "refresh_token"
	refreshTokenTTL    = 30 * 24 * time.Hour
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// login signs in with Supabase, sets the session cookies and returns the
// access token for bearer clients.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.Sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		var he *supabasetoolbox.HTTPError
		if errors.As(err, &he) && he.Status < 500 {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.fail(w, r, err)
		return
	}
	expires := h.now().Add(time.Duration(sess.ExpiresIn) * time.Second)
	utils.SetCookie(w, r, mid.AccessTokenCookie, sess.AccessToken, expires)
	utils.SetCookie(w, r, refreshTokenCookie, sess.RefreshToken, h.now().Add(refreshTokenTTL))
	h.logger.Info("login", zap.String("user_id", sess.User.ID))
	writeJSON(w, http.StatusOK, loginResponse{
		UserID:      sess.User.ID,
		Email:       sess.User.Email,
		AccessToken: sess.AccessToken,
		ExpiresIn:   sess.ExpiresIn,
	})
}

// logout revokes the session when a token is present and clears cookies.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if tok := mid.AccessToken(r); tok != "" {
		if err := h.Sessions.SignOut(r.Context(), tok); err != nil {
			h.logger.Warn("supabase sign out failed", zap.Error(err))
		}
	}
	utils.ClearCookie(w, r, mid.AccessTokenCookie)
	utils.ClearCookie(w, r, refreshTokenCookie)
	w.WriteHeader(http.StatusNoContent)
}
