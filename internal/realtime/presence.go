package realtime

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineSetKey  = "presence:online_users"
	presenceLastSeenKeyNS = "presence:last_seen:"
	presenceTTL           = 90 * time.Second
	defaultOfflineGrace   = 5 * time.Second
	defaultReaperInterval = 60 * time.Second
)

// PresenceTrackerConfig tunes grace and cleanup behavior.
type PresenceTrackerConfig struct {
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
	OnUserOnline       func(userID uint)
	OnUserOffline      func(userID uint)
}

// PresenceTracker mirrors which users are online into Redis so delivery
// acks and presence events work across server instances. Local connection
// counts are authoritative for this instance; Redis keys cover the rest. A
// short grace window after the last disconnect absorbs tab refreshes and
// reconnects without flapping offline.
type PresenceTracker struct {
	rdb *redis.Client

	mu              sync.RWMutex
	localConns      map[uint]int
	offlineTimers   map[uint]*time.Timer
	offlineNotified map[uint]bool

	offlineGrace   time.Duration
	reaperInterval time.Duration
	onUserOnline   func(userID uint)
	onUserOffline  func(userID uint)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresenceTracker creates a tracker and starts the stale-entry reaper
// when Redis is available.
func NewPresenceTracker(rdb *redis.Client, cfg PresenceTrackerConfig) *PresenceTracker {
	t := &PresenceTracker{
		rdb:             rdb,
		localConns:      make(map[uint]int),
		offlineTimers:   make(map[uint]*time.Timer),
		offlineNotified: make(map[uint]bool),
		offlineGrace:    defaultOfflineGrace,
		reaperInterval:  defaultReaperInterval,
		onUserOnline:    cfg.OnUserOnline,
		onUserOffline:   cfg.OnUserOffline,
		stopCh:          make(chan struct{}),
	}
	if cfg.OfflineGracePeriod > 0 {
		t.offlineGrace = cfg.OfflineGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		t.reaperInterval = cfg.ReaperInterval
	}

	if t.rdb != nil {
		go t.reaperLoop()
	}
	return t
}

// Stop halts the reaper and cancels pending offline timers.
func (t *PresenceTracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.mu.Lock()
		for userID, timer := range t.offlineTimers {
			timer.Stop()
			delete(t.offlineTimers, userID)
		}
		t.mu.Unlock()
	})
}

// Register records a new connection for the user and refreshes their
// Redis presence.
func (t *PresenceTracker) Register(ctx context.Context, userID uint) {
	wasOnline := t.IsOnline(ctx, userID)

	t.mu.Lock()
	if timer, ok := t.offlineTimers[userID]; ok {
		timer.Stop()
		delete(t.offlineTimers, userID)
	}
	t.localConns[userID]++
	t.offlineNotified[userID] = false
	t.mu.Unlock()

	t.Touch(ctx, userID)
	if !wasOnline && t.onUserOnline != nil {
		t.onUserOnline(userID)
	}
}

// Touch refreshes the user's last-seen key. Call on pings or activity.
func (t *PresenceTracker) Touch(ctx context.Context, userID uint) {
	if t.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	if err := t.rdb.SAdd(ctx, presenceOnlineSetKey, uid).Err(); err != nil {
		slog.Warn("presence touch failed", slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
	}
	_ = t.rdb.SetEx(ctx, t.lastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), presenceTTL).Err()
}

// Unregister records a closed connection. Offline is only emitted after
// the grace period passes with no reconnect.
func (t *PresenceTracker) Unregister(ctx context.Context, userID uint) {
	t.mu.Lock()
	if n, ok := t.localConns[userID]; ok {
		n--
		if n > 0 {
			t.localConns[userID] = n
			t.mu.Unlock()
			return
		}
		delete(t.localConns, userID)
	}

	if timer, ok := t.offlineTimers[userID]; ok {
		timer.Stop()
	}
	t.offlineTimers[userID] = time.AfterFunc(t.offlineGrace, func() {
		t.finalizeOffline(context.Background(), userID)
	})
	t.mu.Unlock()
}

// IsOnline reports whether the user is connected to any instance.
func (t *PresenceTracker) IsOnline(ctx context.Context, userID uint) bool {
	t.mu.RLock()
	if t.localConns[userID] > 0 {
		t.mu.RUnlock()
		return true
	}
	t.mu.RUnlock()

	if t.rdb == nil {
		return false
	}
	exists, err := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
	return err == nil && exists > 0
}

// OnlineUserIDs returns the union of Redis presence (stale entries
// filtered) and local connections.
func (t *PresenceTracker) OnlineUserIDs(ctx context.Context) []uint {
	local := t.localUserIDs()
	if t.rdb == nil {
		return local
	}

	members, err := t.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[uint]struct{}, len(members)+len(local))
	result := make([]uint, 0, len(members)+len(local))
	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
		if existsErr != nil {
			continue
		}
		if exists == 0 {
			_ = t.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}
	for _, userID := range local {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}
	return result
}

// reapOnce removes Redis set members whose last-seen key expired.
func (t *PresenceTracker) reapOnce(ctx context.Context) {
	if t.rdb == nil {
		return
	}
	members, err := t.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		return
	}
	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
		if existsErr != nil || exists > 0 {
			continue
		}
		_ = t.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()

		t.mu.RLock()
		hasLocal := t.localConns[userID] > 0
		t.mu.RUnlock()
		if !hasLocal {
			t.emitOffline(userID)
		}
	}
}

func (t *PresenceTracker) reaperLoop() {
	ticker := time.NewTicker(t.reaperInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.reapOnce(ctx)
		}
	}
}

func (t *PresenceTracker) finalizeOffline(ctx context.Context, userID uint) {
	t.mu.Lock()
	if t.localConns[userID] > 0 {
		delete(t.offlineTimers, userID)
		t.mu.Unlock()
		return
	}
	delete(t.offlineTimers, userID)
	t.mu.Unlock()

	if t.rdb != nil {
		exists, err := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
		if err == nil && exists > 0 {
			// Another instance refreshed presence; the user is still online.
			return
		}
		_ = t.rdb.SRem(ctx, presenceOnlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
	}

	t.emitOffline(userID)
}

func (t *PresenceTracker) emitOffline(userID uint) {
	t.mu.Lock()
	if t.offlineNotified[userID] {
		t.mu.Unlock()
		return
	}
	t.offlineNotified[userID] = true
	cb := t.onUserOffline
	t.mu.Unlock()
	if cb != nil {
		cb(userID)
	}
}

func (t *PresenceTracker) localUserIDs() []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint, 0, len(t.localConns))
	for userID, count := range t.localConns {
		if count > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (t *PresenceTracker) lastSeenKey(userID uint) string {
	return presenceLastSeenKeyNS + strconv.FormatUint(uint64(userID), 10)
}
