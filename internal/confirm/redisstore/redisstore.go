// Package redisstore keeps confirmation sessions in Redis so that several
// hearth instances behind one ingress share pending confirmations.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/confirm"
)

// grace keeps an expired session readable long enough for Sweep to record it.
const grace = time.Minute

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a confirm.Store backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)

	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *Store) Put(ctx context.Context, sess *confirm.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(s.now()) + grace
	if ttl < grace {
		ttl = grace
	}
	return s.client.Set(ctx, s.key(sess.ConversationID), data, ttl).Err()
}

func (s *Store) Take(ctx context.Context, conversationID string) (*confirm.Session, error) {
	data, err := s.client.GetDel(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Sweep scans the prefix and takes every session that has expired.
func (s *Store) Sweep(ctx context.Context, now time.Time) ([]*confirm.Session, error) {
	var expired []*confirm.Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return expired, err
		}
		sess, err := decode(data)
		if err != nil {
			slog.Warn("dropping unreadable confirmation session", "key", key, "error", err)
			s.client.Del(ctx, key)
			continue
		}
		if !sess.Expired(now) {
			continue
		}

		// A reply may have taken the session since it was read.
		data, err = s.client.GetDel(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return expired, err
		}
		if sess, err = decode(data); err == nil {
			expired = append(expired, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return expired, fmt.Errorf("scanning sessions: %w", err)
	}
	return expired, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decode(data []byte) (*confirm.Session, error) {
	var sess confirm.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}
