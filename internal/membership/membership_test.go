package membership

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRoster struct {
	mu        sync.Mutex
	snapshots [][]string
}

func (r *recordingRoster) ApplyRoster(members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, append([]string(nil), members...))
}

func (r *recordingRoster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recordingRoster) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

func TestParseCluster(t *testing.T) {
	in := `
# cluster members
10.0.0.2:8848
10.0.0.1:8848   # seed

10.0.0.2:8848
`
	peers, err := ParseCluster(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:8848", "10.0.0.2:8848"}, peers)
}

func TestStatic(t *testing.T) {
	r := &recordingRoster{}

	require.NoError(t, NewStatic([]string{"b", "a", "", "a"}).Start(context.Background(), r))

	assert.Equal(t, [][]string{{"a", "b"}}, r.snapshots)
}

func TestFileWatcher_MissingFile(t *testing.T) {
	w := NewFileWatcher(filepath.Join(t.TempDir(), "nope.conf"), time.Second)

	err := w.Start(context.Background(), &recordingRoster{})
	assert.Error(t, err)
}

func TestFileWatcher_PushesOnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.conf")
	require.NoError(t, os.WriteFile(path, []byte("a:1\nb:1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &recordingRoster{}
	w := NewFileWatcher(path, 20*time.Millisecond)
	require.NoError(t, w.Start(ctx, r))
	assert.Equal(t, 1, r.count())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.count(), "unchanged file is not pushed again")

	require.NoError(t, os.WriteFile(path, []byte("a:1\nb:1\nc:1\n"), 0o600))
	assert.Eventually(t, func() bool { return r.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a:1", "b:1", "c:1"}, r.last())

	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop")
	}
}
