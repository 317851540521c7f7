package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func registerChatRoutes(r chi.Router, d Deps) {
	r.Get("/api/chats", d.handleChats)
	r.Post("/api/chat/open", d.handleChatOpen)
	r.Post("/api/chat/close", d.handleChatClose)
	r.Get("/api/chat", d.handleChatView)
	r.Post("/api/chat/send", d.handleChatSend)
	r.Post("/api/chat/draft", d.handleChatDraft)
	r.Delete("/api/chat/message/{messageID}", d.handleChatDelete)
}

func (d Deps) handleChats(w http.ResponseWriter, r *http.Request) {
	chats, err := d.Client.MyChats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (d Deps) handleChatOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID   int64 `json:"chatId"`
		FriendID int64 `json:"friendId"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	var err error
	if req.ChatID == 0 && req.FriendID != 0 {
		err = d.Chat.OpenDirect(r.Context(), 0, req.FriendID)
	} else {
		err = d.Chat.Open(r.Context(), req.ChatID)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Chat.View())
}

func (d Deps) handleChatClose(w http.ResponseWriter, r *http.Request) {
	d.Chat.Close()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Deps) handleChatView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Chat.View())
}

func (d Deps) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := d.Chat.Send(r.Context(), req.Text); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Chat.View())
}

func (d Deps) handleChatDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	d.Chat.SetDraft(req.Text)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d Deps) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad message id"})
		return
	}
	if err := d.Chat.DeleteMessage(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
