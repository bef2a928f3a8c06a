package profile

import (
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/vitals/internal/storage"
)

// SectionStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type SectionStore interface {
	ListSections(userID string) ([]storage.Section, error)
	UpsertSection(sec storage.Section) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	sections []Section
	at       time.Time
}

// Manager provides cached, per-user access to profile sections stored in SQLite.
type Manager struct {
	store SectionStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store SectionStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store SectionStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Sections returns the user's sections in section order. Returns an empty
// slice for a user without a profile.
func (m *Manager) Sections(userID string) ([]Section, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		out := copySections(e.sections)
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		return copySections(e.sections), nil
	}

	rows, err := m.store.ListSections(userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile sections: %w", err)
	}
	sections := make([]Section, 0, len(rows))
	for _, r := range rows {
		sections = append(sections, Section{
			ID:        r.SectionID,
			Title:     r.Title,
			Content:   r.Content,
			Order:     r.OrderIndex,
			UpdatedAt: r.UpdatedAt,
		})
	}
	m.cache[userID] = cacheEntry{sections: sections, at: m.clock.Now()}
	return copySections(sections), nil
}

// Section returns one section. ok is false when the user has never written it.
func (m *Manager) Section(userID, sectionID string) (sec Section, ok bool, err error) {
	sections, err := m.Sections(userID)
	if err != nil {
		return Section{}, false, err
	}
	for _, s := range sections {
		if s.ID == sectionID {
			return s, true, nil
		}
	}
	return Section{}, false, nil
}

// Text returns the user's whole profile as one composed document.
func (m *Manager) Text(userID string) (string, error) {
	sections, err := m.Sections(userID)
	if err != nil {
		return "", err
	}
	return Compose(sections), nil
}

// PutSection persists a section and invalidates the user's cache entry.
func (m *Manager) PutSection(userID string, sec Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.UpsertSection(storage.Section{
		UserID:     userID,
		SectionID:  sec.ID,
		Title:      sec.Title,
		Content:    sec.Content,
		OrderIndex: sec.Order,
	})
	if err != nil {
		return fmt.Errorf("saving section %q: %w", sec.ID, err)
	}
	delete(m.cache, userID)
	return nil
}

// Invalidate drops the cached sections of a user so the next read goes to
// the store. Used when sections may have been edited outside this process.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
}

func copySections(in []Section) []Section {
	out := make([]Section, len(in))
	copy(out, in)
	return out
}
