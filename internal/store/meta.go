package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"registrar/internal/metrics"

	"github.com/tidwall/wal"
)

const recordTypeTerm byte = 1

func openMeta(dir string, noSync bool) (*wal.Log, error) {
	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	log, err := wal.Open(dir, &opts)
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}
	return log, nil
}

// LoadTerm returns the last persisted term, or 0 on a fresh data dir.
func (s *Store) LoadTerm() (uint64, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if s.meta == nil {
		return 0, ErrClosed
	}

	empty, err := s.meta.IsEmpty()
	if err != nil {
		return 0, ioErr("load-term", "", err)
	}
	if empty {
		return 0, nil
	}

	last, err := s.meta.LastIndex()
	if err != nil {
		return 0, ioErr("load-term", "", err)
	}
	data, err := s.meta.Read(last)
	if err != nil {
		return 0, ioErr("load-term", "", err)
	}

	recType, payload, err := unmarshalRecord(data)
	if err != nil {
		return 0, ioErr("load-term", "", err)
	}
	if recType != recordTypeTerm {
		return 0, ioErr("load-term", "", fmt.Errorf("unexpected record type %d", recType))
	}

	term, n := binary.Uvarint(payload)
	if n <= 0 {
		return 0, ioErr("load-term", "", io.ErrUnexpectedEOF)
	}
	return term, nil
}

// StoreTerm appends the term and drops older records so only the latest
// survives.
func (s *Store) StoreTerm(term uint64) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if s.meta == nil {
		return ErrClosed
	}

	if term == s.lastTerm && s.termWritten {
		return nil
	}

	start := time.Now()

	last, err := s.meta.LastIndex()
	if err != nil {
		metrics.StorageDiskErrorsTotal.WithLabelValues("store-term").Inc()
		return ioErr("store-term", "", err)
	}
	next := last + 1

	payload := binary.AppendUvarint(nil, term)
	if err := s.meta.Write(next, marshalRecord(recordTypeTerm, payload)); err != nil {
		metrics.StorageDiskErrorsTotal.WithLabelValues("store-term").Inc()
		return ioErr("store-term", "", err)
	}

	if next > 1 {
		if err := s.meta.TruncateFront(next); err != nil {
			// the new record is durable; older ones only waste space
			s.log.Warn("term log truncate failed", "index", next, "error", err)
		}
	}

	s.lastTerm = term
	s.termWritten = true

	metrics.WALWritesTotal.Inc()
	metrics.WALWriteDuration.Observe(time.Since(start).Seconds())
	return nil
}

func marshalRecord(recType byte, payload []byte) []byte {
	buf := make([]byte, 1+binary.MaxVarintLen64+len(payload))
	buf[0] = recType
	n := binary.PutUvarint(buf[1:], uint64(len(payload)))
	copy(buf[1+n:], payload)
	return buf[:1+n+len(payload)]
}

func unmarshalRecord(data []byte) (byte, []byte, error) {
	if len(data) < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	recType := data[0]
	length, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	start := 1 + n
	end := start + int(length)
	if end > len(data) {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return recType, data[start:end], nil
}
