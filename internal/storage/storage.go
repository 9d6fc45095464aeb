package storage

import (
	"context"
	"errors"
	"time"

	"letterdrop/backend/internal/domain"
)

// ErrDocumentNotFound 文档尚未创建，属于首次使用的正常情况
var ErrDocumentNotFound = errors.New("document not found")

// 持久化文档名称
const (
	DocKeys        = "keys"
	DocSubscribers = "subscribers"
	DocEmailQueue  = "email_queue"
	DocAdmin       = "admin"
	DocStats       = "stats"
)

// AllDocuments 所有文档，迁移工具按此顺序复制
var AllDocuments = []string{DocKeys, DocSubscribers, DocEmailQueue, DocAdmin, DocStats}

// Backend 定义 JSON 文档的存取操作。单次 Write 必须是原子的。
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Health(ctx context.Context) error
	Close() error
}

// LetterRepository 定义信件数据存取操作。
type LetterRepository interface {
	List(key string) ([]domain.Letter, error)
	Get(key, id string) (*domain.Letter, error)
	Create(key, content string, createdAt time.Time) (*domain.Letter, error)
	Update(key, id, content string) (*domain.Letter, error)
	Delete(key, id string) error
	DeleteAll(key string) (int, error) // 删除密钥下所有信件，返回删除数量
	Count(key string) (int, error)
	Health() error
}
