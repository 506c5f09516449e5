// Package cache stores Router responses keyed by a digest of the most recent
// conversation turns.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/leolimacr/advisor-core/internal/types"
)

// Entry is a cached Router response with its creation time
type Entry struct {
	Response  types.RouterResponse `json:"response"`
	CreatedAt time.Time            `json:"created_at"`
}

// Expired reports whether the entry is older than ttl at now
func (e *Entry) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) >= ttl
}

// Stats is a point-in-time view of cache usage
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Clears  int64 `json:"clears"`
}

// ResponseCache is a bounded, time-expiring store shared by concurrent
// requests. Implementations must make overflow clearing atomic with respect
// to readers.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, resp types.RouterResponse) error
	// Purge removes expired entries and returns how many were dropped
	Purge(ctx context.Context) (int, error)
	Stats() Stats
}

// Fingerprint digests the last n turns of conv within scope. Text is
// lowercased and whitespace collapsed so trivially different phrasings of the
// same turn share a key.
func Fingerprint(scope string, conv []types.ConversationTurn, n int) string {
	if n <= 0 || n > len(conv) {
		n = len(conv)
	}

	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	for _, turn := range conv[len(conv)-n:] {
		h.Write([]byte(turn.Role))
		h.Write([]byte{':'})
		h.Write([]byte(normalize(turn.Text)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
