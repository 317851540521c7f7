package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devduel/devduel/internal/api"
	"github.com/devduel/devduel/internal/storage"
	"github.com/devduel/devduel/internal/transport"
)

type sentFrame struct {
	Event string
	Data  json.RawMessage
}

// fakeTransport records outgoing frames and lets tests inject pushes.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentFrame
	fail map[string]bool
	subs map[string][]chan transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail: map[string]bool{},
		subs: map[string][]chan transport.Event{},
	}
}

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[event] {
		return transport.ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentFrame{Event: event, Data: data})
	return nil
}

func (f *fakeTransport) Subscribe(event string) (chan transport.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan transport.Event, 16)
	f.subs[event] = append(f.subs[event], ch)
	return ch, func() {}
}

func (f *fakeTransport) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[event] {
		ch <- transport.Event{Name: event, Data: raw}
	}
}

func (f *fakeTransport) frames(event string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentFrame
	for _, fr := range f.sent {
		if fr.Event == event {
			out = append(out, fr)
		}
	}
	return out
}

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(t.TempDir() + "/chat.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() Config {
	return Config{
		HistoryPageSize:  50,
		LoadAttempts:     1,
		SendAttempts:     1,
		ReadMarkDebounce: 20 * time.Millisecond,
	}
}

func waitLoaded(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.View().Loaded
	}, 2*time.Second, 5*time.Millisecond)
}

func chatServer(t *testing.T, chatID int64, newestFirst []api.Message) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/chats/%d", chatID), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChatInfo{
			ID: chatID, Kind: api.ChatKindDirect, CanSend: true, IsParticipant: true,
		})
	})
	mux.HandleFunc(fmt.Sprintf("/chats/%d/messages", chatID), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(newestFirst)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenLoadsHistoryChronologically(t *testing.T) {
	now := time.Now()
	srv := chatServer(t, 1, []api.Message{
		text(12, 1, 2, "newest", now),
		text(11, 1, 2, "older", now),
	})

	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7, DisplayName: "me"})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	view := m.View()
	var ids []int64
	for _, r := range view.Rows {
		if r.Kind == RowMessage {
			ids = append(ids, r.Msg.ID)
		}
	}
	require.Equal(t, []int64{11, 12}, ids)

	joins := tr.frames("join_chat")
	require.Len(t, joins, 1)
	require.JSONEq(t, `{"chatId":1}`, string(joins[0].Data))
}

func TestEventRacingHistoryIsMergedOnce(t *testing.T) {
	now := time.Now()
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/chats/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChatInfo{ID: 1, Kind: api.ChatKindDirect, CanSend: true, IsParticipant: true})
	})
	mux.HandleFunc("/chats/1/messages", func(w http.ResponseWriter, r *http.Request) {
		<-release
		// The page already contains id 11, which also arrives as a push.
		json.NewEncoder(w).Encode([]api.Message{
			text(11, 1, 2, "b", now),
			text(10, 1, 2, "a", now),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))

	tr.push(t, "new_message", text(11, 1, 2, "b", now))
	tr.push(t, "new_message", text(12, 1, 2, "c", now))
	close(release)
	waitLoaded(t, m)

	require.Eventually(t, func() bool {
		var ids []int64
		for _, r := range m.View().Rows {
			if r.Kind == RowMessage {
				ids = append(ids, r.Msg.ID)
			}
		}
		return len(ids) == 3 && ids[0] == 10 && ids[1] == 11 && ids[2] == 12
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendOptimisticThenEcho(t *testing.T) {
	srv := chatServer(t, 1, nil)
	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7, DisplayName: "me"})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	require.NoError(t, m.Send(context.Background(), "hello"))

	view := m.View()
	require.Equal(t, 1, view.Pending)

	var frames []sentFrame
	require.Eventually(t, func() bool {
		frames = tr.frames("send_message")
		return len(frames) == 1
	}, 2*time.Second, 5*time.Millisecond)

	var sent struct {
		ChatID      int64  `json:"chatId"`
		Text        string `json:"text"`
		ClientNonce string `json:"clientNonce"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Data, &sent))
	require.Equal(t, "hello", sent.Text)
	require.NotEmpty(t, sent.ClientNonce)

	echo := text(99, 1, 7, "hello", time.Now())
	echo.ClientNonce = sent.ClientNonce
	tr.push(t, "new_message", echo)

	require.Eventually(t, func() bool {
		v := m.View()
		if v.Pending != 0 {
			return false
		}
		for _, r := range v.Rows {
			if r.Kind == RowMessage && r.Msg.ID == 99 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// Still exactly one message.
	count := 0
	for _, r := range m.View().Rows {
		if r.Kind == RowMessage {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestSendRollbackRestoresDraft(t *testing.T) {
	srv := chatServer(t, 1, nil)
	tr := newFakeTransport()
	tr.fail["send_message"] = true

	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	require.NoError(t, m.Send(context.Background(), "doomed"))

	require.Eventually(t, func() bool {
		v := m.View()
		return v.Pending == 0 && v.Draft == "doomed"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEmptySendRejected(t *testing.T) {
	srv := chatServer(t, 1, nil)
	m := NewManager(api.NewClient(srv.URL), newFakeTransport(), testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	require.ErrorIs(t, m.Send(context.Background(), "   "), ErrEmptyMessage)
}

func TestDeleteEventFiltersByChat(t *testing.T) {
	now := time.Now()
	srv := chatServer(t, 1, []api.Message{text(10, 1, 2, "a", now)})
	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	// Wrong conversation: ignored.
	tr.push(t, "message_deleted", map[string]any{"chatId": 2, "messageId": 10})
	time.Sleep(50 * time.Millisecond)
	require.Len(t, messageIDs(m), 1)

	tr.push(t, "message_deleted", map[string]any{"chatId": 1, "messageId": 10})
	require.Eventually(t, func() bool {
		return len(messageIDs(m)) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHistoryClearedEmptiesConversation(t *testing.T) {
	now := time.Now()
	srv := chatServer(t, 1, []api.Message{text(10, 1, 2, "a", now)})
	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	tr.push(t, "chat_history_cleared", map[string]any{"chatId": 1})
	require.Eventually(t, func() bool {
		return len(messageIDs(m)) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReadMarkIsMonotonic(t *testing.T) {
	now := time.Now()

	var markMu sync.Mutex
	var marks []int64

	mux := http.NewServeMux()
	mux.HandleFunc("/chats/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ChatInfo{ID: 1, Kind: api.ChatKindDirect, CanSend: true, IsParticipant: true})
	})
	mux.HandleFunc("/chats/1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.Message{})
	})
	mux.HandleFunc("/chats/1/mark-read", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			LastMessageID int64 `json:"lastMessageId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		markMu.Lock()
		marks = append(marks, body.LastMessageID)
		markMu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)

	tr.push(t, "new_message", text(20, 1, 2, "a", now))
	require.Eventually(t, func() bool {
		markMu.Lock()
		defer markMu.Unlock()
		return len(marks) == 1 && marks[0] == 20
	}, 2*time.Second, 5*time.Millisecond)

	// A redelivery of an already-marked id must not produce a lower mark.
	tr.push(t, "new_message", text(15, 1, 2, "late", now))
	time.Sleep(100 * time.Millisecond)

	markMu.Lock()
	defer markMu.Unlock()
	for _, mark := range marks[1:] {
		require.GreaterOrEqual(t, mark, int64(20))
	}
}

func TestSendMaterializesDirectThread(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chats/private", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FriendID int64 `json:"friendId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(api.ChatInfo{
			ID: 9, Kind: api.ChatKindDirect, CanSend: true, IsParticipant: true,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.OpenDirect(context.Background(), 0, 42))
	waitLoaded(t, m)
	require.Equal(t, int64(0), m.View().ChatID)

	require.NoError(t, m.Send(context.Background(), "first contact"))
	require.Equal(t, int64(9), m.View().ChatID)

	joins := tr.frames("join_chat")
	require.Len(t, joins, 1)
	require.JSONEq(t, `{"chatId":9}`, string(joins[0].Data))

	// The emitted frame carries the materialized id, not the placeholder.
	require.Eventually(t, func() bool {
		return len(tr.frames("send_message")) == 1
	}, time.Second, time.Millisecond)
	var frame struct {
		ChatID int64 `json:"chatId"`
	}
	require.NoError(t, json.Unmarshal(tr.frames("send_message")[0].Data, &frame))
	require.Equal(t, int64(9), frame.ChatID)
}

func TestDraftPersistsAcrossSwitch(t *testing.T) {
	now := time.Now()
	mux := http.NewServeMux()
	for _, id := range []int64{1, 2} {
		id := id
		mux.HandleFunc(fmt.Sprintf("/chats/%d", id), func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(api.ChatInfo{ID: id, Kind: api.ChatKindDirect, CanSend: true, IsParticipant: true})
		})
		mux.HandleFunc(fmt.Sprintf("/chats/%d/messages", id), func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]api.Message{text(id*10, id, 2, "x", now)})
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tr := newFakeTransport()
	m := NewManager(api.NewClient(srv.URL), tr, testDB(t), testConfig())
	m.SetSelf(api.User{ID: 7})

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)
	m.SetDraft("half-typed")

	require.NoError(t, m.Open(context.Background(), 2))
	waitLoaded(t, m)
	require.Empty(t, m.View().Draft)

	require.NoError(t, m.Open(context.Background(), 1))
	waitLoaded(t, m)
	require.Equal(t, "half-typed", m.View().Draft)
}

func messageIDs(m *Manager) []int64 {
	var ids []int64
	for _, r := range m.View().Rows {
		if r.Kind == RowMessage {
			ids = append(ids, r.Msg.ID)
		}
	}
	return ids
}
