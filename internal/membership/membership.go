package membership

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"registrar/internal/metrics"
)

// Roster receives full membership snapshots.
type Roster interface {
	ApplyRoster(members []string)
}

// Static pushes a fixed peer list once.
type Static struct {
	peers []string
}

func NewStatic(peers []string) *Static {
	return &Static{peers: normalize(peers)}
}

func (s *Static) Start(ctx context.Context, r Roster) error {
	r.ApplyRoster(s.peers)
	metrics.MembershipRosterSize.Set(float64(len(s.peers)))
	metrics.MembershipUpdatesTotal.Inc()
	slog.Info("static membership applied", "peers", s.peers)
	return nil
}

// FileWatcher polls a cluster file and pushes the roster whenever the set
// of addresses changes. The file holds one address per line; blank lines
// and anything after '#' are ignored.
type FileWatcher struct {
	path     string
	interval time.Duration
	last     []string
	done     chan struct{}
}

func NewFileWatcher(path string, interval time.Duration) *FileWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FileWatcher{path: path, interval: interval, done: make(chan struct{})}
}

// Start reads the file once, failing if it cannot, then keeps polling until
// ctx is done.
func (w *FileWatcher) Start(ctx context.Context, r Roster) error {
	if _, err := w.poll(r); err != nil {
		return err
	}

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.poll(r); err != nil {
					slog.Warn("failed to reload cluster file", "path", w.path, "error", err)
				}
			}
		}
	}()
	return nil
}

// Done is closed once the polling goroutine has exited.
func (w *FileWatcher) Done() <-chan struct{} {
	return w.done
}

func (w *FileWatcher) poll(r Roster) (bool, error) {
	peers, err := ReadClusterFile(w.path)
	if err != nil {
		return false, err
	}
	if w.last != nil && slices.Equal(peers, w.last) {
		return false, nil
	}

	w.last = peers
	r.ApplyRoster(peers)
	metrics.MembershipRosterSize.Set(float64(len(peers)))
	metrics.MembershipUpdatesTotal.Inc()
	slog.Info("cluster file applied", "path", w.path, "peers", peers)
	return true, nil
}

func ReadClusterFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cluster file: %w", err)
	}
	defer f.Close()

	return ParseCluster(f)
}

func ParseCluster(r io.Reader) ([]string, error) {
	var out []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cluster file: %w", err)
	}
	return normalize(out), nil
}

func normalize(peers []string) []string {
	seen := make(map[string]struct{}, len(peers))
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
