package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

type reqStatus string

const (
	statusPending  reqStatus = "pending"
	statusAccepted reqStatus = "accepted"
	statusRejected reqStatus = "rejected"
)

type pairKey struct{ sender, receiver string }

// memoryStore is used when no DATABASE_URL is configured.
type memoryStore struct {
	mu sync.RWMutex

	users   map[string]*User
	friends map[pairKey]reqStatus
	// only pending game requests are kept; resolved ones are dropped
	games map[pairKey]GameRequest
}

func NewMemoryStore() Store {
	return &memoryStore{
		users:   make(map[string]*User),
		friends: make(map[pairKey]reqStatus),
		games:   make(map[pairKey]GameRequest),
	}
}

func (m *memoryStore) CreateUser(ctx context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return ErrUsernameTaken
	}
	m.users[username] = &User{Username: username, PasswordHash: passwordHash, Elo: DefaultElo, CreatedAt: time.Now()}
	return nil
}

func (m *memoryStore) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	out.Friends = append([]string(nil), u.Friends...)
	return &out, nil
}

func (m *memoryStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memoryStore) InsertFriendRequest(ctx context.Context, sender, receiver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{sender, receiver}
	if st, ok := m.friends[k]; ok && st != statusRejected {
		return ErrDuplicateRequest
	}
	m.friends[k] = statusPending
	return nil
}

func (m *memoryStore) PendingFriendRequests(ctx context.Context, receiver string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for k, st := range m.friends {
		if k.receiver == receiver && st == statusPending {
			out = append(out, k.sender)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) ResolveFriendRequest(ctx context.Context, sender, receiver string, accept bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{sender, receiver}
	if m.friends[k] != statusPending {
		return ErrRequestNotFound
	}
	if !accept {
		m.friends[k] = statusRejected
		return nil
	}
	s, ok1 := m.users[sender]
	r, ok2 := m.users[receiver]
	if !ok1 || !ok2 {
		return ErrUserNotFound
	}
	m.friends[k] = statusAccepted
	s.addFriend(receiver)
	r.addFriend(sender)
	return nil
}

func (m *memoryStore) InsertGameRequest(ctx context.Context, sender, receiver, timeFormat string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{sender, receiver}
	if _, ok := m.games[k]; ok {
		return ErrDuplicateRequest
	}
	m.games[k] = GameRequest{Sender: sender, Receiver: receiver, TimeFormat: timeFormat, CreatedAt: time.Now()}
	return nil
}

func (m *memoryStore) PendingGameRequests(ctx context.Context, receiver string) ([]GameRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []GameRequest{}
	for k, g := range m.games {
		if k.receiver == receiver {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) ResolveGameRequest(ctx context.Context, sender, receiver string, accept bool) (GameRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{sender, receiver}
	g, ok := m.games[k]
	if !ok {
		return GameRequest{}, ErrRequestNotFound
	}
	delete(m.games, k)
	return g, nil
}

func (m *memoryStore) ApplyResult(ctx context.Context, white, black string, update func(w, b *User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok1 := m.users[white]
	b, ok2 := m.users[black]
	if !ok1 || !ok2 {
		return ErrUserNotFound
	}
	update(w, b)
	return nil
}
