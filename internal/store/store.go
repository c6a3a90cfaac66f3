package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"registrar/internal/metrics"
	"registrar/internal/types"

	"github.com/tidwall/wal"
)

// Store keeps one JSON file per datum under <base>/data and serves every
// read from memory.
type Store struct {
	// writeMu keeps the disk step and the map step of one mutation together.
	writeMu sync.Mutex

	mu      sync.RWMutex
	datums  map[string]types.Datum
	baseDir string
	dataDir string

	metaMu      sync.Mutex
	meta        *wal.Log
	lastTerm    uint64
	termWritten bool

	log *slog.Logger
}

func Open(baseDir string, noSync bool) (*Store, error) {
	dataDir := filepath.Join(baseDir, dataFolder)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, ioErr("open", "", fmt.Errorf("mkdir %s: %w", dataDir, err))
	}

	meta, err := openMeta(filepath.Join(baseDir, metaFolder), noSync)
	if err != nil {
		return nil, ioErr("open", "", err)
	}

	s := &Store{
		datums:  make(map[string]types.Datum),
		baseDir: baseDir,
		dataDir: dataDir,
		meta:    meta,
		log:     slog.Default().With("component", "store"),
	}

	slog.Info("datum store opened", "dir", baseDir, "no_sync", noSync)
	return s, nil
}

func (s *Store) Close() error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if s.meta == nil {
		return nil
	}
	err := s.meta.Close()
	s.meta = nil
	return err
}

func (s *Store) Write(d types.Datum) error {
	if d.Key == "" {
		return ErrEmptyKey
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode datum %s: %w", d.Key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	if err := writeFileAtomic(s.pathFor(d.Key), data); err != nil {
		metrics.StorageDiskErrorsTotal.WithLabelValues("write").Inc()
		s.log.Error("datum write failed", "key", d.Key, "error", err)
		return ioErr("write", d.Key, err)
	}
	metrics.StorageWriteDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.datums[d.Key] = d.Clone()
	n := len(s.datums)
	s.mu.Unlock()

	metrics.StorageOperationsTotal.WithLabelValues("write").Inc()
	metrics.StorageKeysTotal.Set(float64(n))
	return nil
}

// Delete removes the datum. Deleting an absent key is not an error; the
// returned bool tells the caller whether anything was there.
func (s *Store) Delete(key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.Remove(s.pathFor(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.StorageDiskErrorsTotal.WithLabelValues("delete").Inc()
		s.log.Error("datum delete failed", "key", key, "error", err)
		return false, ioErr("delete", key, err)
	}

	s.mu.Lock()
	_, existed := s.datums[key]
	delete(s.datums, key)
	n := len(s.datums)
	s.mu.Unlock()

	metrics.StorageOperationsTotal.WithLabelValues("delete").Inc()
	metrics.StorageKeysTotal.Set(float64(n))
	return existed, nil
}

// LoadAll warms the in-memory map from disk. Unreadable records are
// skipped; only a data dir that cannot be walked at all is an error.
func (s *Store) LoadAll() ([]types.Datum, error) {
	var loaded []types.Datum

	err := filepath.WalkDir(s.dataDir, func(path string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == s.dataDir {
				return walkErr
			}
			s.log.Warn("skipping unreadable path", "path", path, "error", walkErr)
			if e != nil && e.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			return nil
		}

		d, err := readDatumFile(path)
		if err != nil {
			metrics.StorageSkippedTotal.Inc()
			s.log.Warn("skipping corrupt datum file", "path", path, "error", err)
			return nil
		}
		loaded = append(loaded, d)
		return nil
	})
	if err != nil {
		metrics.StorageDiskErrorsTotal.WithLabelValues("load").Inc()
		return nil, ioErr("load", "", err)
	}

	s.mu.Lock()
	for _, d := range loaded {
		if cur, ok := s.datums[d.Key]; ok && cur.Version >= d.Version {
			continue
		}
		s.datums[d.Key] = d
	}
	n := len(s.datums)
	s.mu.Unlock()

	metrics.StorageKeysTotal.Set(float64(n))
	slog.Info("datums loaded from disk", "count", len(loaded), "dir", s.dataDir)
	return loaded, nil
}

// Reload rereads one key from disk into memory.
func (s *Store) Reload(key string) (types.Datum, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	d, err := readDatumFile(s.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Datum{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return types.Datum{}, ioErr("reload", key, err)
	}
	if d.Key != key {
		return types.Datum{}, ioErr("reload", key, fmt.Errorf("file holds key %q", d.Key))
	}

	s.mu.Lock()
	s.datums[key] = d
	s.mu.Unlock()

	metrics.StorageOperationsTotal.WithLabelValues("reload").Inc()
	return d.Clone(), nil
}

func readDatumFile(path string) (types.Datum, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Datum{}, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return types.Datum{}, errors.New("empty file")
	}

	var d types.Datum
	if err := json.Unmarshal(raw, &d); err != nil {
		return types.Datum{}, err
	}
	if d.Key == "" {
		if k, err := keyFromFileName(filepath.Base(path)); err == nil {
			d.Key = k
		}
	}
	if d.Key == "" {
		return types.Datum{}, errors.New("record has no key")
	}
	return d, nil
}

func (s *Store) Get(key string) (types.Datum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datums[key]
	if !ok {
		return types.Datum{}, false
	}
	return d.Clone(), true
}

func (s *Store) Version(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datums[key]
	return d.Version, ok
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.datums))
	for k := range s.datums {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

func (s *Store) Digest() []types.DigestEntry {
	s.mu.RLock()
	out := make([]types.DigestEntry, 0, len(s.datums))
	for k, d := range s.datums {
		out = append(out, types.DigestEntry{Key: k, Version: d.Version})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) Snapshot() []types.Datum {
	s.mu.RLock()
	out := make([]types.Datum, 0, len(s.datums))
	for _, d := range s.datums {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datums)
}
