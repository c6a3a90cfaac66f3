package store

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"registrar/internal/types"
)

const (
	dataFolder = "data"
	metaFolder = "meta"
	tmpSuffix  = ".tmp"
)

// fileName maps a key onto a single path segment. ':' is kept readable as
// '#', which PathEscape never leaves unescaped. A segment made only of dots
// is percent-encoded so "." and ".." never walk out of the data dir.
func fileName(key string) string {
	name := strings.ReplaceAll(url.PathEscape(key), ":", "#")
	if strings.Trim(name, ".") == "" {
		return strings.Repeat("%2E", len(name))
	}
	return name
}

func keyFromFileName(name string) (string, error) {
	return url.PathUnescape(strings.ReplaceAll(name, "#", ":"))
}

func (s *Store) pathFor(key string) string {
	ns := types.Namespace(key)
	if ns == "" {
		return filepath.Join(s.dataDir, fileName(key))
	}
	return filepath.Join(s.dataDir, fileName(ns), fileName(key))
}

// writeFileAtomic makes a new file visible only once it is fully synced.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmp := f.Name()

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
