package memory

import (
	"context"
	"sync"

	"letterdrop/backend/internal/storage"
)

// Store 使用内存保存 JSON 文档，主要用于开发验证与测试。
type Store struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	writes   map[string]int
	writeErr error
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		docs:   make(map[string][]byte),
		writes: make(map[string]int),
	}
}

// Read 读取文档
func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[name]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write 写入文档
func (s *Store) Write(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.docs[name] = buf
	s.writes[name]++
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error {
	return nil
}

// Close 无需释放资源
func (s *Store) Close() error {
	return nil
}

// SetWriteError 让后续写入返回指定错误，传 nil 恢复
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes 返回文档被写入的次数
func (s *Store) Writes(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[name]
}

var _ storage.Backend = (*Store)(nil)
