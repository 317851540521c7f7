package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devduel/devduel/internal/game"
	"github.com/devduel/devduel/internal/session"
)

func registerGameRoutes(r chi.Router, d Deps) {
	r.Get("/api/game", d.handleGameState)
	r.Post("/api/game/mount", d.handleGameMount)
	r.Post("/api/game/ready", d.handleGameReady)
	r.Post("/api/game/leave", d.handleGameLeave)

	r.Post("/api/invite/send", d.handleInviteSend)
	r.Post("/api/invite/accept", d.handleInviteAccept)
	r.Post("/api/invite/decline", d.handleInviteDecline)
}

type gameStateResp struct {
	InGame            bool               `json:"inGame"`
	SessionID         string             `json:"sessionId,omitempty"`
	Session           *game.SessionState `json:"session,omitempty"`
	RemainingMS       int64              `json:"remainingMs"`
	InviteCountdownMS int64              `json:"inviteCountdownMs"`
	LastInviteError   string             `json:"lastInviteError,omitempty"`
}

func (d Deps) handleGameState(w http.ResponseWriter, r *http.Request) {
	resp := gameStateResp{
		InGame:            d.Game.Members.InGame(),
		SessionID:         d.Game.Members.SessionID(),
		RemainingMS:       d.Game.Screen.Remaining(time.Now()).Milliseconds(),
		InviteCountdownMS: d.Game.InviteWindow().Milliseconds(),
		LastInviteError:   d.Game.InviteError(),
	}
	if s, ok := d.Game.Screen.Current(); ok {
		resp.Session = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d Deps) handleGameMount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := d.Game.Mount(req.SessionID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Deps) handleGameReady(w http.ResponseWriter, r *http.Request) {
	if err := d.Game.Ready(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Deps) handleGameLeave(w http.ResponseWriter, r *http.Request) {
	d.Game.Leave()
	writeJSON(w, http.StatusOK, map[string]string{"route": string(session.RouteChat)})
}

func (d Deps) handleInviteSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToUserID int64 `json:"toUserId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := d.Chat.SendInvite(r.Context(), req.ToUserID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Deps) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteID string `json:"inviteId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := d.Game.AcceptInvite(req.InviteID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Deps) handleInviteDecline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteID string `json:"inviteId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := d.Game.DeclineInvite(req.InviteID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
