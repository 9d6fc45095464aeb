package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"letterdrop/backend/internal/storage"
)

const tableName = "letterdrop_documents"

// Store SQL 文档存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建SQL数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewStoreWithDB(db, driverName)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB 使用已打开的连接创建存储并执行建表
func NewStoreWithDB(db *sql.DB, driverName string) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	store := &Store{
		db:         db,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// Read 读取文档
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	query := fmt.Sprintf("SELECT body FROM %s WHERE name = %s", tableName, s.placeholder(1))

	var body string
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read document %s: %w", name, err)
	}
	return []byte(body), nil
}

// Write 写入文档（单条 upsert）
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	var query string
	if s.driverName == "postgres" {
		query = fmt.Sprintf(`INSERT INTO %s (name, body, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`, tableName)
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (name, body, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = VALUES(updated_at)`, tableName)
	}

	if _, err := s.db.ExecContext(ctx, query, name, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write document %s: %w", name, err)
	}
	return nil
}

// migrate 创建文档表
func (s *Store) migrate() error {
	var ddl string
	if s.driverName == "postgres" {
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(64) PRIMARY KEY,
	body TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, tableName)
	} else {
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(64) PRIMARY KEY,
	body LONGTEXT NOT NULL,
	updated_at DATETIME(3) NOT NULL
) DEFAULT CHARSET=utf8mb4`, tableName)
	}

	_, err := s.db.Exec(ddl)
	return err
}

// placeholder 根据数据库类型返回占位符
func (s *Store) placeholder(n int) string {
	if s.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var _ storage.Backend = (*Store)(nil)
