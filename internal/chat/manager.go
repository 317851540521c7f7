// Chat reconciliation engine. Per open conversation it merges the fetched
// transcript with live pushes, dedupes optimistic sends against their server
// echoes, and tracks the read cursor. The manager holds one conversation at
// a time — switching persists the old draft and cancels every chat-scoped
// subscription before the new one attaches.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devduel/devduel/internal/api"
	"github.com/devduel/devduel/internal/retry"
	"github.com/devduel/devduel/internal/storage"
	"github.com/devduel/devduel/internal/transport"
)

var ErrEmptyMessage = errors.New("message text is empty")

// Update tells viewer-side listeners what changed.
type Update string

const (
	UpdateConversation Update = "conversation"
	UpdateChatList     Update = "chats"
)

// Transport is the slice of the connection manager the engine needs.
type Transport interface {
	Send(event string, payload any) error
	Subscribe(event string) (chan transport.Event, func())
}

type Config struct {
	HistoryPageSize  int
	LoadAttempts     int
	SendAttempts     int
	ReadMarkDebounce time.Duration
}

func (c *Config) defaults() {
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 50
	}
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = 3
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 3
	}
	if c.ReadMarkDebounce <= 0 {
		c.ReadMarkDebounce = 1500 * time.Millisecond
	}
}

// conversation is the state of the one open thread.
type conversation struct {
	id       int64 // 0 until a fresh direct thread materializes
	friendID int64 // peer of an unmaterialized direct thread
	info     api.ChatInfo

	msgs     []Message
	buffered []api.Message // events that raced the history fetch
	loaded   bool
	failed   bool

	draft        string
	lastMarkSent int64
	readTimer    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *conversation) draftKey() string {
	if c.id != 0 {
		return strconv.FormatInt(c.id, 10)
	}
	return "friend:" + strconv.FormatInt(c.friendID, 10)
}

// ViewState is the derived state the UI renders.
type ViewState struct {
	Info    api.ChatInfo `json:"info"`
	Rows    []Row        `json:"rows"`
	Loaded  bool         `json:"loaded"`
	Failed  bool         `json:"failed"`
	Draft   string       `json:"draft"`
	ChatID  int64        `json:"chatId"`
	Pending int          `json:"pendingSends"`
}

type Manager struct {
	client *api.Client
	tr     Transport
	db     *storage.DB
	cfg    Config

	mu   sync.Mutex
	self api.User
	cur  *conversation

	listenerMu sync.Mutex
	listeners  []chan Update
}

func NewManager(client *api.Client, tr Transport, db *storage.DB, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		client: client,
		tr:     tr,
		db:     db,
		cfg:    cfg,
	}
}

// SetSelf installs the authenticated identity the engine attributes local
// sends and read state to.
func (m *Manager) SetSelf(u api.User) {
	m.mu.Lock()
	m.self = u
	m.mu.Unlock()
}

// Run keeps the manager-lifetime subscriptions (chat-list updates) alive
// until ctx is done. Chat-scoped subscriptions live with the conversation.
func (m *Manager) Run(ctx context.Context) {
	ch, cancel := m.tr.Subscribe("general_chat_update")
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.notify(UpdateChatList)
		}
	}
}

// Open switches to an existing conversation.
func (m *Manager) Open(ctx context.Context, chatID int64) error {
	return m.open(ctx, chatID, 0)
}

// OpenDirect opens a direct thread with a contact. chatID may be 0 when the
// thread has never been written to; the backend chat materializes on first
// send or invite.
func (m *Manager) OpenDirect(ctx context.Context, chatID, friendID int64) error {
	return m.open(ctx, chatID, friendID)
}

func (m *Manager) open(ctx context.Context, chatID, friendID int64) error {
	m.mu.Lock()
	m.closeCurrentLocked()

	// The conversation outlives the call that opened it (HTTP handlers pass
	// request-scoped contexts); its lifetime ends on switch or Close.
	cctx, cancel := context.WithCancel(context.Background())
	c := &conversation{
		id:       chatID,
		friendID: friendID,
		ctx:      cctx,
		cancel:   cancel,
	}
	m.cur = c
	m.mu.Unlock()

	m.attachSubscriptions(c)

	if draft, err := m.db.GetDraft(c.draftKey()); err == nil && draft != "" {
		m.mu.Lock()
		if m.cur == c {
			c.draft = draft
		}
		m.mu.Unlock()
	}

	if chatID == 0 {
		// Nothing to fetch: an empty, sendable thread.
		m.mu.Lock()
		c.loaded = true
		c.info = api.ChatInfo{Kind: api.ChatKindDirect, CanSend: true, IsParticipant: true}
		m.mu.Unlock()
		m.notify(UpdateConversation)
		return nil
	}

	if err := m.tr.Send("join_chat", map[string]any{"chatId": chatID}); err != nil {
		log.Printf("CHAT: join_chat %d: %v", chatID, err)
	}

	go m.loadHistory(c)
	return nil
}

// Close leaves the current conversation, persisting its draft.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closeCurrentLocked()
	m.mu.Unlock()
}

func (m *Manager) closeCurrentLocked() {
	c := m.cur
	if c == nil {
		return
	}
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if err := m.db.SetDraft(c.draftKey(), c.draft); err != nil {
		log.Printf("CHAT: persist draft: %v", err)
	}
	c.cancel()
	m.cur = nil
}

// attachSubscriptions wires the chat-scoped live events. Each subscription
// dies with the conversation context, so a switched-away thread can never
// leak events into the new one.
func (m *Manager) attachSubscriptions(c *conversation) {
	pump := func(event string, handle func(c *conversation, data json.RawMessage)) {
		ch, cancel := m.tr.Subscribe(event)
		go func() {
			defer cancel()
			for {
				select {
				case <-c.ctx.Done():
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					handle(c, evt.Data)
				}
			}
		}()
	}

	pump("new_message", m.handleNewMessage)
	pump("messages_read_by_other", m.handleReadByOther)
	pump("message_deleted", m.handleDeleted)
	pump("chat_history_cleared", m.handleHistoryCleared)
}

// loadHistory fetches metadata and the most recent page, with bounded
// retries and growing backoff. After exhaustion the conversation is shown
// as failed/empty rather than retried forever.
func (m *Manager) loadHistory(c *conversation) {
	var (
		info api.ChatInfo
		page []api.Message
	)

	policy := retry.Linear(m.cfg.LoadAttempts, 500*time.Millisecond)
	err := retry.Do(c.ctx, policy, func(ctx context.Context, attempt int) error {
		var err error
		info, err = m.client.Chat(ctx, c.id)
		if err != nil {
			return err
		}
		page, err = m.client.Messages(ctx, c.id, 1, m.cfg.HistoryPageSize)
		return err
	})

	m.mu.Lock()
	if m.cur != c {
		m.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("CHAT: load %d failed: %v", c.id, err)
		c.loaded = true
		c.failed = true
		m.mu.Unlock()
		m.notify(UpdateConversation)
		return
	}

	// Backend serves newest-first; display wants chronological.
	history := make([]api.Message, len(page))
	for i, msg := range page {
		history[len(page)-1-i] = msg
	}

	c.info = info
	c.msgs = mergeHistory(history, c.buffered)
	c.buffered = nil
	c.loaded = true
	m.scheduleReadMarkLocked(c)
	m.mu.Unlock()

	m.notify(UpdateConversation)
}

// Send appends an optimistic message and emits it with bounded retries.
// The optimistic append happens before any network round-trip resolves.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	c := m.cur
	if c == nil {
		m.mu.Unlock()
		return errors.New("no open conversation")
	}
	self := m.self
	m.mu.Unlock()

	if err := m.materialize(ctx, c); err != nil {
		return err
	}

	nonce := uuid.NewString()

	// materialize may have swapped the real chat id in; read it under the
	// lock and carry the value from here on.
	m.mu.Lock()
	if m.cur != c {
		m.mu.Unlock()
		return errors.New("conversation changed")
	}
	chatID := c.id
	draftKey := c.draftKey()
	c.msgs = append(c.msgs, Message{
		Message: api.Message{
			ChatID:      chatID,
			AuthorID:    self.ID,
			AuthorName:  self.DisplayName,
			Kind:        api.MessageKindText,
			Text:        text,
			ClientNonce: nonce,
			Timestamp:   time.Now().UTC(),
		},
		Pending: true,
	})
	c.draft = ""
	m.mu.Unlock()
	if err := m.db.DeleteDraft(draftKey); err != nil {
		log.Printf("CHAT: clear draft: %v", err)
	}
	m.notify(UpdateConversation)

	go m.emitSend(c, chatID, nonce, text)
	return nil
}

// emitSend pushes the send event; on exhausting retries the optimistic
// entry is rolled back and the text restored to the compose box, so user
// input is never silently dropped.
func (m *Manager) emitSend(c *conversation, chatID int64, nonce, text string) {
	policy := retry.Linear(m.cfg.SendAttempts, 300*time.Millisecond)
	err := retry.Do(c.ctx, policy, func(ctx context.Context, attempt int) error {
		return m.tr.Send("send_message", map[string]any{
			"chatId":      chatID,
			"text":        text,
			"clientNonce": nonce,
		})
	})
	if err == nil {
		return
	}

	log.Printf("CHAT: send failed, restoring draft: %v", err)
	m.mu.Lock()
	if m.cur != c {
		m.mu.Unlock()
		return
	}
	var removed bool
	c.msgs, removed = removeByNonce(c.msgs, nonce)
	if removed && c.draft == "" {
		c.draft = text
	}
	m.mu.Unlock()
	m.notify(UpdateConversation)
}

// SendInvite emits a game invite into the conversation, materializing a
// fresh direct thread first when needed.
func (m *Manager) SendInvite(ctx context.Context, toUserID int64) error {
	m.mu.Lock()
	c := m.cur
	m.mu.Unlock()
	if c == nil {
		return errors.New("no open conversation")
	}

	if err := m.materialize(ctx, c); err != nil {
		return err
	}

	m.mu.Lock()
	chatID := c.id
	m.mu.Unlock()

	return m.tr.Send("send_game_invite", map[string]any{
		"chatId":   chatID,
		"toUserId": toUserID,
	})
}

// materialize creates the backend conversation for a not-yet-created direct
// thread and swaps the real chat id in.
func (m *Manager) materialize(ctx context.Context, c *conversation) error {
	m.mu.Lock()
	if c.id != 0 {
		m.mu.Unlock()
		return nil
	}
	friendID := c.friendID
	m.mu.Unlock()

	var info api.ChatInfo
	policy := retry.Linear(m.cfg.LoadAttempts, 500*time.Millisecond)
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		var err error
		info, err = m.client.CreatePrivateChat(ctx, friendID)
		return err
	})
	if err != nil {
		return fmt.Errorf("create chat with %d: %w", friendID, err)
	}

	m.mu.Lock()
	oldKey := c.draftKey()
	c.id = info.ID
	c.info = info
	m.mu.Unlock()

	// Draft was keyed by friend id; re-key under the real chat id.
	if draft, derr := m.db.GetDraft(oldKey); derr == nil && draft != "" {
		_ = m.db.SetDraft(c.draftKey(), draft)
		_ = m.db.DeleteDraft(oldKey)
	}

	if err := m.tr.Send("join_chat", map[string]any{"chatId": info.ID}); err != nil {
		log.Printf("CHAT: join_chat %d: %v", info.ID, err)
	}
	return nil
}

// DeleteMessage asks the backend to delete one of the user's own messages.
// Removal from the view happens on the confirming message_deleted event.
func (m *Manager) DeleteMessage(ctx context.Context, messageID int64) error {
	return m.client.DeleteMessage(ctx, messageID)
}

// SetDraft stores the compose-box text for the open conversation.
func (m *Manager) SetDraft(text string) {
	m.mu.Lock()
	c := m.cur
	if c != nil {
		c.draft = text
	}
	m.mu.Unlock()

	if c != nil {
		if err := m.db.SetDraft(c.draftKey(), text); err != nil {
			log.Printf("CHAT: persist draft: %v", err)
		}
	}
}

// View returns the derived state of the open conversation.
func (m *Manager) View() ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cur
	if c == nil {
		return ViewState{}
	}

	pending := 0
	for i := range c.msgs {
		if c.msgs[i].Pending {
			pending++
		}
	}

	return ViewState{
		Info:    c.info,
		Rows:    buildView(c.msgs, m.self.ID),
		Loaded:  c.loaded,
		Failed:  c.failed,
		Draft:   c.draft,
		ChatID:  c.id,
		Pending: pending,
	}
}

// ── live event handlers ──

func (m *Manager) handleNewMessage(c *conversation, data json.RawMessage) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CHAT: bad new_message: %v", err)
		return
	}

	m.mu.Lock()
	if m.cur != c || msg.ChatID != c.id {
		m.mu.Unlock()
		return
	}

	if !c.loaded {
		// History fetch still in flight; merged once the page lands.
		c.buffered = append(c.buffered, msg)
		m.mu.Unlock()
		return
	}

	c.msgs = appendOrReplace(c.msgs, msg)
	if msg.AuthorID != m.self.ID && !msg.IsRead {
		m.scheduleReadMarkLocked(c)
	}
	m.mu.Unlock()

	m.notify(UpdateConversation)
}

func (m *Manager) handleReadByOther(c *conversation, data json.RawMessage) {
	var evt struct {
		ChatID     int64   `json:"chatId"`
		MessageIDs []int64 `json:"messageIds"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("CHAT: bad messages_read_by_other: %v", err)
		return
	}

	m.mu.Lock()
	if m.cur != c || evt.ChatID != c.id {
		m.mu.Unlock()
		return
	}
	changed := markOwnRead(c.msgs, m.self.ID, evt.MessageIDs)
	m.mu.Unlock()

	if changed {
		m.notify(UpdateConversation)
	}
}

func (m *Manager) handleDeleted(c *conversation, data json.RawMessage) {
	var evt struct {
		ChatID    int64 `json:"chatId"`
		MessageID int64 `json:"messageId"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("CHAT: bad message_deleted: %v", err)
		return
	}

	m.mu.Lock()
	if m.cur != c || evt.ChatID != c.id {
		m.mu.Unlock()
		return
	}
	var removed bool
	c.msgs, removed = removeByID(c.msgs, evt.MessageID)
	m.mu.Unlock()

	if removed {
		m.notify(UpdateConversation)
	}
}

func (m *Manager) handleHistoryCleared(c *conversation, data json.RawMessage) {
	var evt struct {
		ChatID int64 `json:"chatId"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}

	m.mu.Lock()
	if m.cur != c || evt.ChatID != c.id {
		m.mu.Unlock()
		return
	}
	c.msgs = nil
	c.buffered = nil
	m.mu.Unlock()

	m.notify(UpdateConversation)
}

// ── read tracking ──

// scheduleReadMarkLocked (re)arms the debounce. Every new unread arrival
// pushes the window out so one mark-read call covers the burst.
func (m *Manager) scheduleReadMarkLocked(c *conversation) {
	if unreadHighWaterMark(c.msgs, m.self.ID) == 0 {
		return
	}
	if c.readTimer != nil {
		c.readTimer.Stop()
	}
	c.readTimer = time.AfterFunc(m.cfg.ReadMarkDebounce, func() {
		m.fireReadMark(c)
	})
}

// fireReadMark sends one mark-read with the current high-water mark. The
// mark is monotonic: a lower-or-equal hwm than already reported is skipped.
// Failures are logged only — read state is not critical-path and the next
// batch re-reports at least the same mark.
func (m *Manager) fireReadMark(c *conversation) {
	m.mu.Lock()
	if m.cur != c || !c.loaded {
		m.mu.Unlock()
		return
	}
	hwm := unreadHighWaterMark(c.msgs, m.self.ID)
	if hwm == 0 || hwm <= c.lastMarkSent {
		m.mu.Unlock()
		return
	}
	chatID := c.id
	selfID := m.self.ID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.MarkRead(ctx, chatID, hwm); err != nil {
		log.Printf("CHAT: mark-read %d up to %d: %v", chatID, hwm, err)
		return
	}

	m.mu.Lock()
	if m.cur == c {
		if hwm > c.lastMarkSent {
			c.lastMarkSent = hwm
		}
		markReadUpTo(c.msgs, selfID, hwm)
	}
	m.mu.Unlock()

	m.notify(UpdateConversation)
}

// ── listeners ──

func (m *Manager) SubscribeUpdates() (ch chan Update, cancel func()) {
	ch = make(chan Update, 16)

	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		for i, listener := range m.listeners {
			if listener == ch {
				close(listener)
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) notify(u Update) {
	m.listenerMu.Lock()
	for _, ch := range m.listeners {
		select {
		case ch <- u:
		default:
		}
	}
	m.listenerMu.Unlock()
}
