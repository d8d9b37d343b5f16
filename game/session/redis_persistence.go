package session

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

const (
	DefaultRedisKeyPrefix = "tictactoe:game:"
	DefaultRedisTTL       = 24 * time.Hour

	scanBatch = 100
)

// RedisPersistence stores one key per session, <prefix><id>, holding the
// JSON record. Every save resets the key's expiry.
type RedisPersistence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPersistence creates a Redis-backed session persistence layer.
// Empty prefix and non-positive ttl fall back to the defaults.
func NewRedisPersistence(client *redis.Client, prefix string, ttl time.Duration) *RedisPersistence {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisPersistence{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisClient dials addr and pings it before returning.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return client, nil
}

func (r *RedisPersistence) key(id string) string {
	return r.prefix + id
}

// Save writes the session and refreshes its expiry.
func (r *RedisPersistence) Save(ctx context.Context, s service.Session) error {
	if s.ID == "" {
		return errors.New("session id cannot be empty")
	}

	data, err := encodeSession(s, time.Now(), false)
	if err != nil {
		return errors.Wrap(err, "marshal session data")
	}

	return errors.Wrapf(r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(), "save session %s", s.ID)
}

// Load reads one session.
func (r *RedisPersistence) Load(ctx context.Context, id string) (service.Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return service.Session{}, notFound(id)
	}
	if err != nil {
		return service.Session{}, errors.Wrapf(err, "load session %s", id)
	}

	return decodeSession(raw)
}

// Delete removes one session key.
func (r *RedisPersistence) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return errors.Wrapf(err, "delete session %s", id)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// ListAll scans the prefix and returns the session ids found.
func (r *RedisPersistence) ListAll(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan session keys")
	}
	return ids, nil
}

// Exists reports whether a key exists for id.
func (r *RedisPersistence) Exists(ctx context.Context, id string) bool {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	return err == nil && n > 0
}
