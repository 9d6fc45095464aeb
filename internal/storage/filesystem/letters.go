package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/storage"
)

const (
	letterExt          = ".md"
	maxCollisionSuffix = 1000
)

// LetterStore 信件文件存储，每封信件对应 {dir}/{key}-{id}.md
type LetterStore struct {
	dir           string
	platformUtils *PlatformUtils
}

// NewLetterStore 创建信件存储，目录不存在时自动创建
func NewLetterStore(dir string) (*LetterStore, error) {
	platformUtils := NewPlatformUtils()

	normalizedPath, err := platformUtils.EnsureDir(dir)
	if err != nil {
		return nil, err
	}

	return &LetterStore{
		dir:           normalizedPath,
		platformUtils: platformUtils,
	}, nil
}

// Dir 返回信件目录
func (s *LetterStore) Dir() string {
	return s.dir
}

// List 列出密钥下所有信件，按创建时间倒序
func (s *LetterStore) List(key string) ([]domain.Letter, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}

	ids, err := s.letterIDs(key)
	if err != nil {
		return nil, err
	}

	type entry struct {
		letter domain.Letter
		seq    int
	}
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		createdAt, seq, _ := domain.ParseLetterID(id)
		content, err := os.ReadFile(s.letterPath(key, id))
		if err != nil {
			// 列目录之后被删除
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read letter %s: %w", id, err)
		}
		entries = append(entries, entry{
			letter: domain.Letter{
				ID:        id,
				Key:       key,
				Content:   string(content),
				CreatedAt: createdAt,
			},
			seq: seq,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.letter.CreatedAt.Equal(b.letter.CreatedAt) {
			return a.letter.CreatedAt.After(b.letter.CreatedAt)
		}
		return a.seq > b.seq
	})

	letters := make([]domain.Letter, len(entries))
	for i, e := range entries {
		letters[i] = e.letter
	}
	return letters, nil
}

// Get 读取单封信件
func (s *LetterStore) Get(key, id string) (*domain.Letter, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	createdAt, _, err := domain.ParseLetterID(id)
	if err != nil {
		return nil, fmt.Errorf("letter %q: %w", id, domain.ErrNotFound)
	}

	content, err := os.ReadFile(s.letterPath(key, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("letter %q: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read letter: %w", err)
	}

	return &domain.Letter{
		ID:        id,
		Key:       key,
		Content:   string(content),
		CreatedAt: createdAt,
	}, nil
}

// Create 以 createdAt 为时间戳写入新信件。
// 同一毫秒内的冲突通过追加 -N 后缀解决，O_EXCL 保证不会覆盖已有文件。
func (s *LetterStore) Create(key, content string, createdAt time.Time) (*domain.Letter, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}

	createdAt = createdAt.UTC().Truncate(time.Millisecond)
	for attempt := 0; attempt < maxCollisionSuffix; attempt++ {
		id := domain.NewLetterID(createdAt, attempt)
		err := createExclusive(s.letterPath(key, id), []byte(content))
		if err == nil {
			return &domain.Letter{
				ID:        id,
				Key:       key,
				Content:   content,
				CreatedAt: createdAt,
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create letter: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to create letter: too many collisions at %s", createdAt.Format(time.RFC3339Nano))
}

// Update 原地覆盖信件内容，创建时间不变
func (s *LetterStore) Update(key, id, content string) (*domain.Letter, error) {
	letter, err := s.Get(key, id)
	if err != nil {
		return nil, err
	}

	if err := writeFileAtomic(s.letterPath(key, id), []byte(content)); err != nil {
		return nil, fmt.Errorf("failed to update letter: %w", err)
	}

	letter.Content = content
	return letter, nil
}

// Delete 删除单封信件
func (s *LetterStore) Delete(key, id string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if !domain.IsLetterID(id) {
		return fmt.Errorf("letter %q: %w", id, domain.ErrNotFound)
	}

	if err := os.Remove(s.letterPath(key, id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("letter %q: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to delete letter: %w", err)
	}
	return nil
}

// DeleteAll 删除密钥下所有信件，返回删除数量
func (s *LetterStore) DeleteAll(key string) (int, error) {
	if err := s.validateKey(key); err != nil {
		return 0, err
	}

	ids, err := s.letterIDs(key)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := os.Remove(s.letterPath(key, id)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete letter %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// Count 统计密钥下的信件数量
func (s *LetterStore) Count(key string) (int, error) {
	if err := s.validateKey(key); err != nil {
		return 0, err
	}
	ids, err := s.letterIDs(key)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Health 检查信件目录可写
func (s *LetterStore) Health() error {
	return s.platformUtils.ProbeWritable(s.dir)
}

// letterIDs 扫描目录，返回属于 key 的信件ID。
// 后缀必须是合法的信件ID，避免 key "a" 匹配到 key "a-b" 的文件。
func (s *LetterStore) letterIDs(key string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read letters directory: %w", err)
	}

	prefix := key + "-"
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, letterExt) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), letterExt)
		if domain.IsLetterID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *LetterStore) letterPath(key, id string) string {
	return filepath.Join(s.dir, key+"-"+id+letterExt)
}

func (s *LetterStore) validateKey(key string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	// 最长的ID带冲突后缀
	sample := key + "-" + domain.NewLetterID(time.Time{}, maxCollisionSuffix) + letterExt
	if !s.platformUtils.IsValidFilename(sample) {
		return fmt.Errorf("%w: not representable as a filename", domain.ErrInvalidKey)
	}
	return nil
}

var _ storage.LetterRepository = (*LetterStore)(nil)
