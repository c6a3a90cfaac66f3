package ops

import (
	"sort"

	"registrar/internal/types"
)

// VersionLookup reports the locally stored version of key.
type VersionLookup func(key string) (uint64, bool)

// Reconcile compares a leader digest with local state. pull lists keys that
// are missing locally or older than the leader's copy; orphans lists local
// keys the leader does not hold at all. Both come back sorted.
func Reconcile(digest []types.DigestEntry, local VersionLookup, localKeys []string) (pull, orphans []string) {
	remote := make(map[string]struct{}, len(digest))

	for _, e := range digest {
		remote[e.Key] = struct{}{}

		v, ok := local(e.Key)
		if !ok || v < e.Version {
			pull = append(pull, e.Key)
		}
	}

	for _, k := range localKeys {
		if _, ok := remote[k]; !ok {
			orphans = append(orphans, k)
		}
	}

	sort.Strings(pull)
	sort.Strings(orphans)
	return pull, orphans
}

// Batches splits keys into consecutive chunks of at most size.
func Batches(keys []string, size int) [][]string {
	if size <= 0 {
		size = len(keys)
	}
	if len(keys) == 0 {
		return nil
	}

	out := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}

// TallyVotes returns the address named most often as VotedFor and its
// count. Ties resolve to the lexically smallest address so every node
// reaches the same answer from the same view.
func TallyVotes(peers []types.PeerState) (string, int) {
	counts := make(map[string]int, len(peers))
	for _, p := range peers {
		if p.VotedFor == "" {
			continue
		}
		counts[p.VotedFor]++
	}

	var best string
	var max int
	for addr, n := range counts {
		if n > max || (n == max && addr < best) {
			best, max = addr, n
		}
	}
	return best, max
}
