package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout wird geliefert, wenn die Sperre nicht rechtzeitig frei wurde.
var ErrLockTimeout = errors.New("lock wait timed out")

// Nur der Halter (gleicher Token) darf die Sperre löschen.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Verlängert die Sperre nur, solange sie noch dem Halter gehört.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker ist eine Sperre über mehrere Instanzen hinweg (SET NX PX).
// Solange der Halter die Sperre hält, wird die TTL alle TTL/3 verlängert.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Wait   time.Duration // maximale Wartezeit
	Retry  time.Duration
	Logger *zap.Logger
}

// NewRedisLocker verbindet sich mit url (redis://...).
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisLocker{
		Client: client,
		Prefix: "leaflens:lock:",
		TTL:    ttl,
		Wait:   ttl,
		Retry:  50 * time.Millisecond,
		Logger: logger,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.Wait)

	for {
		ok, err := l.Client.SetNX(ctx, k, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Retry):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// eigener Kontext, damit die Freigabe auch nach Abbruch der Anfrage läuft
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.Client, []string{k}, token).Err(); err != nil {
				l.Logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.TTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := renewScript.Run(rctx, l.Client, []string{k}, token, l.TTL.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.Logger.Warn("Failed to renew lock", zap.String("key", k), zap.Error(err))
		case n == 0:
			l.Logger.Error("Lock expired before release", zap.String("key", k))
			return
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.Client.Close()
}
