package reminders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker records which notifications have gone out.
type Marker interface {
	// Mark claims key for ttl. It reports false if the key is already claimed.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the notification can be attempted again.
	Release(ctx context.Context, key string) error
}

// CursorStore persists the welcome stream cursor between runs.
type CursorStore interface {
	LoadCursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, cursor int64) error
}

// RedisMarker claims keys with SET NX and keeps the welcome cursor in a plain key.
type RedisMarker struct {
	client *redis.Client
	prefix string
}

var (
	_ Marker      = (*RedisMarker)(nil)
	_ CursorStore = (*RedisMarker)(nil)
)

func NewRedisMarker(client *redis.Client, prefix string) *RedisMarker {
	if prefix == "" {
		prefix = "gym:reminders"
	}
	return &RedisMarker{client: client, prefix: prefix}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (r *RedisMarker) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+":sent:"+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisMarker) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+":sent:"+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (r *RedisMarker) LoadCursor(ctx context.Context) (int64, error) {
	raw, err := r.client.Get(ctx, r.prefix+":welcome_cursor").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return cursor, nil
}

func (r *RedisMarker) SaveCursor(ctx context.Context, cursor int64) error {
	if err := r.client.Set(ctx, r.prefix+":welcome_cursor", cursor, 0).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// MemoryMarker is an in-process Marker and CursorStore.
type MemoryMarker struct {
	mu     sync.Mutex
	claims map[string]time.Time
	cursor int64
	now    func() time.Time
}

var (
	_ Marker      = (*MemoryMarker)(nil)
	_ CursorStore = (*MemoryMarker)(nil)
)

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{claims: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryMarker) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.claims[key]; ok && (expires.IsZero() || now.Before(expires)) {
		return false, nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.claims[key] = expires
	return true, nil
}

func (m *MemoryMarker) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func (m *MemoryMarker) LoadCursor(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *MemoryMarker) SaveCursor(_ context.Context, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = cursor
	return nil
}
