package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"letterdrop/backend/internal/storage"
)

// Store 文件系统文档存储，每个文档对应 {basePath}/{name}.json
type Store struct {
	basePath      string         // 数据根目录
	platformUtils *PlatformUtils // 平台兼容性工具
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	normalizedPath, err := platformUtils.EnsureDir(basePath)
	if err != nil {
		return nil, err
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
	}, nil
}

// BasePath 返回数据根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Read 读取文档
func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	path, err := s.documentPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Write 原子写入文档
func (s *Store) Write(_ context.Context, name string, data []byte) error {
	path, err := s.documentPath(name)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Health 检查数据目录可写
func (s *Store) Health(context.Context) error {
	return s.platformUtils.ProbeWritable(s.basePath)
}

// Close 文件存储无需释放资源
func (s *Store) Close() error {
	return nil
}

func (s *Store) documentPath(name string) (string, error) {
	filename := name + ".json"
	if !s.platformUtils.IsValidFilename(filename) {
		return "", fmt.Errorf("invalid document name: %q", name)
	}
	return filepath.Join(s.basePath, filename), nil
}

var _ storage.Backend = (*Store)(nil)
