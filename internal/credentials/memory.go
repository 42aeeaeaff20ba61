package credentials

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemCollection keeps users in process memory, ordered by (CreatedAt, ID)
// like the SQL backends.
type MemCollection struct {
	mu    sync.RWMutex
	users []*User
}

func NewMemCollection() *MemCollection {
	return &MemCollection{}
}

func (m *MemCollection) FindOne(_ context.Context, p Predicate) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if p.Match(u) {
			return u.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemCollection) Find(_ context.Context, p Predicate) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*User{}
	for _, u := range m.users {
		if p.Match(u) {
			out = append(out, u.clone())
		}
	}
	return out, nil
}

func (m *MemCollection) Insert(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasID(u.ID) || m.conflicts(u) {
		return ErrConflict
	}
	i, _ := slices.BinarySearchFunc(m.users, u, olderFirst)
	m.users = slices.Insert(m.users, i, u.clone())
	return nil
}

func (m *MemCollection) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.users {
		if existing.ID != u.ID {
			continue
		}
		if m.conflicts(u) {
			return ErrConflict
		}
		moved := !existing.CreatedAt.Equal(u.CreatedAt)
		m.users[i] = u.clone()
		if moved {
			slices.SortStableFunc(m.users, olderFirst)
		}
		return nil
	}
	return ErrNotFound
}

func (m *MemCollection) RemoveAll(_ context.Context, p Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.users[:0]
	removed := 0
	for _, u := range m.users {
		if p.Match(u) {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	clear(m.users[len(kept):])
	m.users = kept
	return removed, nil
}

func (m *MemCollection) Ping(context.Context) error { return nil }

func (m *MemCollection) Close() error { return nil }

// conflicts reports whether u collides with a record other than itself on
// email or username. Callers hold m.mu.
func (m *MemCollection) conflicts(u *User) bool {
	for _, existing := range m.users {
		if existing.ID == u.ID {
			continue
		}
		if existing.Email == u.Email {
			return true
		}
		if u.Username != "" && existing.Username == u.Username {
			return true
		}
	}
	return false
}

func (m *MemCollection) hasID(id string) bool {
	for _, existing := range m.users {
		if existing.ID == id {
			return true
		}
	}
	return false
}

func olderFirst(a, b *User) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
