package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HKUDS/imagebot-go/pkg/imagegen"
)

func TestGetOrCreateDefaults(t *testing.T) {
	m := NewManager("")
	s := m.GetOrCreate("telegram:1")

	assert.Equal(t, StateChooseProvider, s.State)
	assert.Equal(t, imagegen.ProviderStability, s.Provider)
	assert.Same(t, s, m.GetOrCreate("telegram:1"))
	assert.Equal(t, 1, m.Len())
}

func TestChooseAndClear(t *testing.T) {
	m := NewManager(imagegen.ProviderHuggingFace)
	s := m.GetOrCreate("telegram:2")
	assert.Equal(t, imagegen.ProviderHuggingFace, s.Provider)

	s.Choose(imagegen.ProviderStability)
	assert.Equal(t, StatePromptInput, s.State)
	assert.Equal(t, imagegen.ProviderStability, s.Provider)

	m.Clear("telegram:2")
	fresh := m.GetOrCreate("telegram:2")
	assert.NotSame(t, s, fresh)
	assert.Equal(t, StateChooseProvider, fresh.State)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	m := NewManager("")
	var wg sync.WaitGroup
	got := make([]*Session, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.GetOrCreate("telegram:3")
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		require.Same(t, got[0], s)
	}
}

func TestPruneSkipsBusySessions(t *testing.T) {
	m := NewManager("")
	idle := m.GetOrCreate("idle")
	busy := m.GetOrCreate("busy")
	m.GetOrCreate("fresh")

	old := time.Now().Add(-time.Hour)
	idle.UpdatedAt = old
	busy.UpdatedAt = old

	busy.Lock()
	removed := m.Prune(time.Minute)
	busy.Unlock()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, m.Len())
}

func TestAcquireSkipsPrunedSession(t *testing.T) {
	m := NewManager("")
	stale := m.GetOrCreate("telegram:4")
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	require.Equal(t, 1, m.Prune(time.Minute))

	s := m.Acquire("telegram:4")
	s.Choose(imagegen.ProviderHuggingFace)
	s.Unlock()

	assert.NotSame(t, stale, s)
	assert.Same(t, s, m.GetOrCreate("telegram:4"))
	assert.Equal(t, imagegen.ProviderHuggingFace, m.GetOrCreate("telegram:4").Provider)
}

func TestAcquireRetriesAfterClearWhileWaiting(t *testing.T) {
	m := NewManager("")
	first := m.GetOrCreate("telegram:5")
	first.Lock()

	got := make(chan *Session)
	go func() {
		s := m.Acquire("telegram:5")
		got <- s
		s.Unlock()
	}()

	// Let the goroutine block on the held lock, then drop the session.
	time.Sleep(20 * time.Millisecond)
	m.Clear("telegram:5")
	first.Unlock()

	s := <-got
	assert.NotSame(t, first, s)
	assert.Same(t, s, m.GetOrCreate("telegram:5"))
}

func TestPruneCannotDropAcquiredSession(t *testing.T) {
	m := NewManager("")
	s := m.Acquire("telegram:6")
	s.UpdatedAt = time.Now().Add(-time.Hour)

	assert.Equal(t, 0, m.Prune(time.Minute))
	s.Unlock()
	assert.Same(t, s, m.GetOrCreate("telegram:6"))
}
