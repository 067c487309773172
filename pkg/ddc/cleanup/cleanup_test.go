package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true within %s", timeout)
}

// TestSweepRemovesOnlyAgedFiles exercises sweep's core behavior: a file
// older than MaxAge under a top-level shard folder is removed, a fresh one
// survives.
func TestSweepRemovesOnlyAgedFiles(t *testing.T) {
	root := t.TempDir()
	shard := filepath.Join(root, "0")
	require.NoError(t, os.MkdirAll(shard, 0o755))

	agedPath := filepath.Join(shard, "AGED.udd")
	freshPath := filepath.Join(shard, "FRESH.udd")
	require.NoError(t, os.WriteFile(agedPath, []byte{1}, 0o644))
	require.NoError(t, os.WriteFile(freshPath, []byte{2}, 0o644))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(agedPath, old, old))

	s := Register(Config{
		Root:          root,
		MaxAge:        time.Hour,
		SweepInterval: 10 * time.Millisecond,
	}, nil)
	defer s.Stop()

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(agedPath)
		return os.IsNotExist(err)
	})

	_, err := os.Stat(freshPath)
	assert.NoError(t, err, "a file younger than MaxAge must survive the sweep")
}

func TestSweepRespectsMaxFoldersPerSweep(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	var agedPaths []string
	for i := 0; i < 5; i++ {
		shard := filepath.Join(root, string(rune('0'+i)))
		require.NoError(t, os.MkdirAll(shard, 0o755))
		p := filepath.Join(shard, "AGED.udd")
		require.NoError(t, os.WriteFile(p, []byte{1}, 0o644))
		require.NoError(t, os.Chtimes(p, old, old))
		agedPaths = append(agedPaths, p)
	}

	cfg := Config{
		Root:               root,
		MaxAge:             time.Hour,
		MaxFoldersPerSweep: 2,
	}
	s := &Sweeper{
		cfg:       cfg,
		logger:    log.NewNopLogger(),
		removeLog: log.NewNopLogger(),
		stopCh:    make(chan struct{}),
	}

	require.NoError(t, s.sweep())

	removedCount := 0
	for _, p := range agedPaths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			removedCount++
		}
	}
	assert.Equal(t, 2, removedCount, "sweep must stop after MaxFoldersPerSweep top-level folders")
}
