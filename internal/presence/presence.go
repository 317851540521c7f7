package presence

import "sync"

// StatusEvent mirrors the backend's user_status push.
type StatusEvent struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// Table tracks which users are currently online. Push-only: entries come in
// one at a time via user_status and are replaced wholesale by the users_list
// resync the server sends after a fresh connection.
type Table struct {
	mu        sync.Mutex
	online    map[int64]struct{}
	listeners []chan StatusEvent
}

func NewTable() *Table {
	return &Table{
		online:    map[int64]struct{}{},
		listeners: make([]chan StatusEvent, 0),
	}
}

// SetOnline applies one user_status update.
func (t *Table) SetOnline(userID int64, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, was := t.online[userID]
	if was == online {
		return
	}
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	t.notifyListeners(StatusEvent{UserID: userID, IsOnline: online})
}

// Replace swaps the whole set (reconnect resync). Listeners get one event
// per user whose visible status actually changed.
func (t *Table) Replace(userIDs []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		fresh[id] = struct{}{}
	}

	for id := range t.online {
		if _, ok := fresh[id]; !ok {
			t.notifyListeners(StatusEvent{UserID: id, IsOnline: false})
		}
	}
	for id := range fresh {
		if _, ok := t.online[id]; !ok {
			t.notifyListeners(StatusEvent{UserID: id, IsOnline: true})
		}
	}
	t.online = fresh
}

// IsOnline reports whether the user is currently online.
func (t *Table) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userID]
	return ok
}

// Snapshot returns the ids of all online users.
func (t *Table) Snapshot() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int64, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	return ids
}

func (t *Table) Subscribe() chan StatusEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan StatusEvent, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *Table) Unsubscribe(ch chan StatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *Table) notifyListeners(evt StatusEvent) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
