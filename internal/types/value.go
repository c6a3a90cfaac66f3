package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Datum is a versioned record replicated across the cluster. Value is an
// opaque JSON payload owned by higher level service code.
type Datum struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Version uint64          `json:"version"`
}

func (d Datum) Clone() Datum {
	out := d
	if d.Value != nil {
		out.Value = append(json.RawMessage(nil), d.Value...)
	}
	return out
}

func (d Datum) Equal(other Datum) bool {
	return d.Key == other.Key && d.Version == other.Version && bytes.Equal(d.Value, other.Value)
}

func (d Datum) String() string {
	return fmt.Sprintf("%s@v%d", d.Key, d.Version)
}

// Newer reports whether d should replace current.
func (d Datum) Newer(current Datum, exists bool) bool {
	return !exists || d.Version > current.Version
}

type DigestEntry struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}

func DigestOf(datums []Datum) []DigestEntry {
	out := make([]DigestEntry, 0, len(datums))
	for _, d := range datums {
		out = append(out, DigestEntry{Key: d.Key, Version: d.Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WriteResult separates a locally applied write from a quorum confirmed one.
type WriteResult struct {
	Key          string `json:"key"`
	Version      uint64 `json:"version"`
	Applied      bool   `json:"applied"`
	Acknowledged int    `json:"acknowledged"`
	Quorum       int    `json:"quorum"`
}

func (r WriteResult) Confirmed() bool {
	return r.Applied && r.Acknowledged >= r.Quorum
}
