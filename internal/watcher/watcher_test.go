package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monview/internal/config"
	"monview/internal/domain"
)

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))

	var calls atomic.Int32
	w := New(path, func() { calls.Add(1) }, nil).WithDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing", "monview.yaml"), func() {}, nil)
	assert.Error(t, w.Watch(context.Background()))
}

type recordingSink struct {
	mu       sync.Mutex
	catalogs [][]*domain.Metric
	sessions [][2]bool
}

func (s *recordingSink) SetCatalog(catalog []*domain.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs = append(s.catalogs, catalog)
}

func (s *recordingSink) Update(authenticated, plan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, [2]bool{authenticated, plan})
}

func TestConfigReloaderAppliesCatalogAndSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  authenticated: true
  plan: true
catalog:
  - id: cpu
    name: CPU
  - id: nginx
    name: Nginx
    plugin: true
`), 0644))

	sink := &recordingSink{}
	r := NewConfigReloader(path, config.DefaultConfig(), sink, sink, nil)
	r.Reload()

	require.Len(t, sink.catalogs, 1)
	require.Len(t, sink.catalogs[0], 2)
	assert.Equal(t, "nginx", sink.catalogs[0][1].ID)
	assert.True(t, sink.catalogs[0][1].BuiltIn)
	assert.Equal(t, [][2]bool{{true, true}}, sink.sessions)
	assert.True(t, r.Current().Session.Plan)

	// Unchanged session is not pushed again
	r.Reload()
	assert.Len(t, sink.catalogs, 2)
	assert.Len(t, sink.sessions, 1)
}

func TestConfigReloaderKeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog: ["), 0644))

	sink := &recordingSink{}
	current := config.DefaultConfig()
	r := NewConfigReloader(path, current, sink, sink, nil)
	r.Reload()

	assert.Empty(t, sink.catalogs)
	assert.Empty(t, sink.sessions)
	assert.Same(t, current, r.Current())
}
