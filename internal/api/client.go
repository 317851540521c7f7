package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Client talks to the DevDuel REST backend. The session cookie issued at
// login lives in the client's cookie jar, so every call after Me() rides
// the same session.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

// getJSON performs a GET request, drains the response body, and decodes JSON
// into v (v may be nil to discard). Maps 401 to ErrUnauthorized, 403 to
// ErrBanned and 404 to ErrNotFound; other non-2xx become plain errors.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

// postJSON performs a POST with a JSON body and decodes the JSON response
// into v (body and v may both be nil).
func (c *Client) postJSON(ctx context.Context, path string, body, v any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	return c.do(req, v)
}

func (c *Client) deleteJSON(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrBanned
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("%s %s: status %s", req.Method, req.URL.Path, resp.Status)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// Me fetches the current identity. A profile carrying the ban flag is
// reported as ErrBanned even when the backend answered 200.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	if err := c.getJSON(ctx, "/auth/me", &u); err != nil {
		return User{}, err
	}
	if u.IsBanned {
		return User{}, ErrBanned
	}
	return u, nil
}

// Refresh asks the backend to renew the session cookie.
func (c *Client) Refresh(ctx context.Context) error {
	return c.postJSON(ctx, "/auth/refresh", nil, nil)
}

// Logout invalidates the server-side session. Best-effort by contract; the
// caller decides whether a failure matters.
func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/auth/logout", nil, nil)
}

// MyChats lists the conversations the user participates in.
func (c *Client) MyChats(ctx context.Context) ([]ChatInfo, error) {
	var chats []ChatInfo
	if err := c.getJSON(ctx, "/chats/my", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Chat fetches metadata for one conversation.
func (c *Client) Chat(ctx context.Context, chatID int64) (ChatInfo, error) {
	var info ChatInfo
	if err := c.getJSON(ctx, fmt.Sprintf("/chats/%d", chatID), &info); err != nil {
		return ChatInfo{}, err
	}
	return info, nil
}

// Messages fetches one page of a conversation transcript. The backend
// serves newest-first; callers reverse for display.
func (c *Client) Messages(ctx context.Context, chatID int64, page, pageSize int) ([]Message, error) {
	var msgs []Message
	path := fmt.Sprintf("/chats/%d/messages?page=%d&limit=%d", chatID, page, pageSize)
	if err := c.getJSON(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreatePrivateChat materializes a direct conversation with a contact and
// returns it with its real chat id.
func (c *Client) CreatePrivateChat(ctx context.Context, friendID int64) (ChatInfo, error) {
	var info ChatInfo
	body := struct {
		FriendID int64 `json:"friendId"`
	}{FriendID: friendID}
	if err := c.postJSON(ctx, "/chats/private", body, &info); err != nil {
		return ChatInfo{}, err
	}
	return info, nil
}

// MarkRead reports the local read high-water mark for a conversation.
func (c *Client) MarkRead(ctx context.Context, chatID, lastMessageID int64) error {
	body := struct {
		LastMessageID int64 `json:"lastMessageId"`
	}{LastMessageID: lastMessageID}
	return c.postJSON(ctx, fmt.Sprintf("/chats/%d/mark-read", chatID), body, nil)
}

// DeleteMessage removes one of the user's own messages. Ownership is
// enforced by the backend.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.deleteJSON(ctx, fmt.Sprintf("/chats/messages/%d", messageID))
}

// MaintenanceMode reports whether the backend is gated for maintenance.
func (c *Client) MaintenanceMode(ctx context.Context) (bool, error) {
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.getJSON(ctx, "/maintenance-mode", &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}
