package session

import (
	"sync"
	"time"

	"github.com/HKUDS/imagebot-go/pkg/imagegen"
)

// State is the dialog position of a conversation.
type State string

const (
	StateChooseProvider State = "choose_provider"
	StatePromptInput    State = "prompt_input"
)

// Session is the dialog state of one conversation. Callers hold Lock while
// reading or changing it so that messages of one conversation run one at a time.
type Session struct {
	Key       string
	State     State
	Provider  imagegen.Provider
	CreatedAt time.Time
	UpdatedAt time.Time

	mu sync.Mutex
}

// NewSession creates a session waiting for a provider choice.
func NewSession(key string, provider imagegen.Provider) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		State:     StateChooseProvider,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Transition moves the session to state and records the time.
func (s *Session) Transition(state State) {
	s.State = state
	s.UpdatedAt = time.Now()
}

// Choose records the provider and waits for a prompt.
func (s *Session) Choose(p imagegen.Provider) {
	s.Provider = p
	s.Transition(StatePromptInput)
}

// Manager keeps sessions in memory. Nothing is persisted: a restart sends every
// conversation back to provider selection.
type Manager struct {
	defaultProvider imagegen.Provider
	cache           map[string]*Session
	mu              sync.RWMutex
}

// NewManager creates a manager whose new sessions start with defaultProvider.
func NewManager(defaultProvider imagegen.Provider) *Manager {
	if defaultProvider == "" {
		defaultProvider = imagegen.ProviderStability
	}
	return &Manager{
		defaultProvider: defaultProvider,
		cache:           make(map[string]*Session),
	}
}

// GetOrCreate gets an existing session or creates a new one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.RLock()
	session, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return session
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.cache[key]; ok {
		return session
	}
	session = NewSession(key, m.defaultProvider)
	m.cache[key] = session
	return session
}

// Acquire returns the live session for key with its lock held. A session
// pruned or cleared between lookup and Lock is dropped and looked up again.
func (m *Manager) Acquire(key string) *Session {
	for {
		s := m.GetOrCreate(key)
		s.Lock()
		m.mu.RLock()
		cur := m.cache[key]
		m.mu.RUnlock()
		if cur == s {
			return s
		}
		s.Unlock()
	}
}

// Clear forgets a session.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// Prune drops sessions idle for longer than maxIdle and returns how many went.
// Sessions currently locked by a handler are skipped.
func (m *Manager) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, s := range m.cache {
		if !s.mu.TryLock() {
			continue
		}
		if s.UpdatedAt.Before(cutoff) {
			delete(m.cache, key)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}
