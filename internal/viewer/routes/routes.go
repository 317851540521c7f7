// JSON route handlers for the local viewer.
package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devduel/devduel/internal/api"
	"github.com/devduel/devduel/internal/chat"
	"github.com/devduel/devduel/internal/config"
	"github.com/devduel/devduel/internal/game"
	"github.com/devduel/devduel/internal/nav"
	"github.com/devduel/devduel/internal/presence"
	"github.com/devduel/devduel/internal/session"
	"github.com/devduel/devduel/internal/transport"
)

type Deps struct {
	Client    *api.Client
	Session   *session.Manager
	Transport *transport.Manager
	Chat      *chat.Manager
	Presence  *presence.Table
	Game      *game.Manager
	Guard     *nav.Guard
	CfgPath   string
}

func Register(r chi.Router, d Deps) {
	r.Get("/api/self", d.handleSelf)
	r.Get("/api/config", d.handleConfig)
	r.Post("/api/logout", d.handleLogout)
	r.Get("/api/connection", d.handleConnection)
	r.Get("/api/presence", d.handlePresence)

	registerChatRoutes(r, d)
	registerGameRoutes(r, d)

	r.Post("/api/navigate", d.handleNavigate)
	r.Post("/api/navigate/resolve", d.handleNavigateResolve)

	r.Get("/ws", d.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, api.ErrBanned):
		status = http.StatusForbidden
	case errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, game.ErrAlreadyInGame),
		errors.Is(err, game.ErrInviteTransition),
		errors.Is(err, game.ErrNoSession):
		status = http.StatusConflict
	case errors.Is(err, transport.ErrNotConnected):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return false
	}
	return true
}

func (d Deps) handleSelf(w http.ResponseWriter, r *http.Request) {
	if u, ok := d.Session.Current(); ok {
		writeJSON(w, http.StatusOK, u)
		return
	}
	u, err := d.Session.Fetch(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleConfig reads from disk on every request, so edits (and watched
// reloads) show up without restarting the viewer.
func (d Deps) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(d.CfgPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (d Deps) handleLogout(w http.ResponseWriter, r *http.Request) {
	d.Session.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"route": string(session.RouteLogin)})
}

func (d Deps) handleConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": d.Transport.State(),
	})
}

func (d Deps) handlePresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"online": d.Presence.Snapshot(),
	})
}

func (d Deps) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, d.Guard.Check(req.Target))
}

func (d Deps) handleNavigateResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision  nav.Decision `json:"decision"`
		Confirmed bool         `json:"confirmed"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"route": d.Guard.Resolve(req.Decision, req.Confirmed),
	})
}
