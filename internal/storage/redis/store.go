package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"letterdrop/backend/internal/storage"
)

// DefaultPrefix 文档键前缀
const DefaultPrefix = "letterdrop:doc:"

// Store Redis 文档存储，每个文档保存为一个字符串键
type Store struct {
	client *Client
	prefix string
}

// NewStore 创建 Redis 文档存储
func NewStore(client *Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Read 读取文档
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.rdb.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}
	return data, nil
}

// Write 写入文档，SET 本身是原子的
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	if err := s.client.rdb.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// Health 检查连接
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

var _ storage.Backend = (*Store)(nil)
