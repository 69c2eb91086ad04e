package dedup

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// luaMarkOnce sets the key only when absent so a TTL is never refreshed
// by replays; the first delivery owns the window.
const luaMarkOnce = `
local key = KEYS[1]
local ttlSec = tonumber(ARGV[1])
if redis.call('SETNX', key, '1') == 1 then
  redis.call('EXPIRE', key, ttlSec)
  return 1
end
return 0
`

// Window is a best-effort replay shield in front of the durable
// idempotency markers. A nil *Window is valid and reports nothing as
// seen; redis errors degrade the same way, so losing redis only costs
// the fast path, never correctness.
type Window struct {
	rdb *rd.Client
	ttl time.Duration
	log *zap.Logger
}

func New(rdb *rd.Client, ttl time.Duration, log *zap.Logger) *Window {
	if rdb == nil {
		return nil
	}
	return &Window{rdb: rdb, ttl: ttl, log: log.Named("dedup.window")}
}

// Seen reports whether the transaction was settled inside the window.
func (w *Window) Seen(ctx context.Context, provider, txnID string) bool {
	if w == nil {
		return false
	}
	n, err := w.rdb.Exists(ctx, key(provider, txnID)).Result()
	if err != nil {
		w.log.Warn("dedup_lookup_failed", zap.Error(err))
		return false
	}
	return n > 0
}

// Mark records a settled transaction for the window duration.
func (w *Window) Mark(ctx context.Context, provider, txnID string) {
	if w == nil {
		return
	}
	ttlSec := int64(w.ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}
	if err := w.rdb.Eval(ctx, luaMarkOnce, []string{key(provider, txnID)}, ttlSec).Err(); err != nil {
		w.log.Warn("dedup_mark_failed", zap.Error(err))
	}
}

func key(provider, txnID string) string {
	return fmt.Sprintf("payment:settled:%s:%s", provider, txnID)
}
