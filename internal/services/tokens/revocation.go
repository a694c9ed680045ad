package tokens

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	DefaultRevocationMarkerTTL = 24 * time.Hour

	trackerShardCount = 16
)

type trackerShard struct {
	mu      sync.Mutex
	markers map[string]time.Time
}

// Tracker records sessions revoked recently. Markers deliberately outlive any
// cached access token so a token cached just before a revoke can never be
// served afterwards.
type Tracker struct {
	shards [trackerShardCount]trackerShard
	ttl    time.Duration
	now    func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultRevocationMarkerTTL
	}

	t := &Tracker{
		ttl: ttl,
		now: time.Now,
	}
	for i := range t.shards {
		t.shards[i].markers = make(map[string]time.Time)
	}
	return t
}

func (t *Tracker) MarkRevoked(sessionID string) {
	if sessionID == "" {
		return
	}

	shard := t.shard(sessionID)
	expiry := t.now().Add(t.ttl)

	shard.mu.Lock()
	shard.markers[sessionID] = expiry
	shard.mu.Unlock()
}

func (t *Tracker) IsRevoked(sessionID string) bool {
	if sessionID == "" {
		return false
	}

	shard := t.shard(sessionID)
	now := t.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	expiry, ok := shard.markers[sessionID]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(shard.markers, sessionID)
		return false
	}
	return true
}

// Sweep drops expired markers and returns how many were removed.
func (t *Tracker) Sweep() int {
	now := t.now()
	removed := 0

	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		for sessionID, expiry := range shard.markers {
			if now.After(expiry) {
				delete(shard.markers, sessionID)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	return removed
}

func (t *Tracker) shard(sessionID string) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &t.shards[h.Sum32()%trackerShardCount]
}
