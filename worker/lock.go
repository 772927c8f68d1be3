package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docconvert/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token, so a
// worker whose lock expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the lock still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RecordLocks gives one worker at a time exclusive use of a conversion
// record, across processes sharing the same Redis.
type RecordLocks struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRecordLocks(client redis.Cmdable, prefix string, ttl time.Duration) *RecordLocks {
	return &RecordLocks{redis: client, prefix: prefix, ttl: ttl}
}

func (l *RecordLocks) key(conversionID int64) string {
	return fmt.Sprintf("%s%d", l.prefix, conversionID)
}

// Hold acquires the lock and renews it every third of the TTL until release
// is called. ok is false when another worker holds the record. The returned
// context is cancelled as soon as the lock is lost, so work done under it
// stops writing once another worker may own the record.
func (l *RecordLocks) Hold(ctx context.Context, conversionID int64) (held context.Context, release func(), ok bool, err error) {
	key := l.key(conversionID)
	token := uuid.NewString()

	ok, err = l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to lock conversion %d: %w", conversionID, err)
	}
	if !ok {
		return nil, nil, false, nil
	}

	held, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.heartbeat(held, cancel, stop, key, token)
	}()

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel()
			_ = releaseScript.Run(context.Background(), l.redis, []string{key}, token).Err()
		})
	}
	return held, release, true, nil
}

func (l *RecordLocks) heartbeat(ctx context.Context, lost context.CancelFunc, stop <-chan struct{}, key, token string) {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastExtended := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(context.Background(), l.redis, []string{key}, token, l.ttl.Milliseconds()).Int64()
			switch {
			case err != nil && time.Since(lastExtended) < l.ttl:
				logger.WithContext(ctx).Warn("failed to extend conversion lock", "key", key, "error", err)
			case err != nil || n == 0:
				logger.WithContext(ctx).Error("conversion lock lost", "key", key, "error", err)
				lost()
				return
			default:
				lastExtended = time.Now()
			}
		}
	}
}
