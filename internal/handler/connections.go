package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hwalton/brickstock/internal/domain"
	mid "github.com/hwalton/brickstock/internal/middleware"
	"github.com/hwalton/brickstock/internal/store"
)

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.Connections.Connections(r.Context(), mid.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if conns == nil {
		conns = []store.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func platformParam(w http.ResponseWriter, r *http.Request) (domain.Platform, bool) {
	p, err := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return p, true
}

// saveConnection stores API-key style credentials for a platform.
func (h *Handler) saveConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	var c store.Credentials
	if !h.decode(w, r, &c) {
		return
	}
	if err := h.Connections.SaveCredentials(r.Context(), mid.UserID(r.Context()), p, c); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "platform": string(p)})
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	if err := h.Connections.Disconnect(r.Context(), mid.UserID(r.Context()), p); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ebayConnect redirects to the eBay consent page. ?redirect=false returns the
// URL as JSON for clients that open it themselves.
func (h *Handler) ebayConnect(w http.ResponseWriter, r *http.Request) {
	u, err := h.Connections.BeginEbay(r.Context(), mid.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "false" {
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// ebayCallback exchanges the code and persists the seller's tokens.
func (h *Handler) ebayCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "ebay authorization declined: "+e)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}
	if err := h.Connections.CompleteEbay(r.Context(), mid.UserID(r.Context()), state, code); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "platform": string(domain.PlatformEbay)})
}
