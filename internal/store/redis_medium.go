package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMedium はRedisの1キーにコンテナを保存する。
type RedisMedium struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisMedium は既存のクライアントを使うRedisMediumを生成する。
func NewRedisMedium(client *redis.Client, name string) *RedisMedium {
	return &RedisMedium{client: client, key: "walletauth:container:" + name}
}

// OpenRedisMedium はREDIS_URLからクライアントを生成する。Closeでクライアントも閉じる。
func OpenRedisMedium(redisURL, name string) (*RedisMedium, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	m := NewRedisMedium(redis.NewClient(opts), name)
	m.owned = true
	return m, nil
}

// Load はコンテナを取得する。
func (m *RedisMedium) Load(ctx context.Context) ([]byte, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrContainerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", m.key, err)
	}
	return data, nil
}

// Save はコンテナを期限なしで書き込む。SETは単一キーに対して原子的。
func (m *RedisMedium) Save(ctx context.Context, data []byte) error {
	if err := m.client.Set(ctx, m.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", m.key, err)
	}
	return nil
}

// Close は自前で開いたクライアントのみを閉じる。
func (m *RedisMedium) Close() error {
	if m.owned {
		return m.client.Close()
	}
	return nil
}
