package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Document 类型化的 JSON 文档。
// 同一进程内对同一文档的读改写由互斥锁串行化，后端负责单次写入的原子性。
type Document[T any] struct {
	mu         sync.Mutex
	backend    Backend
	name       string
	newDefault func() T
}

// NewDocument 创建文档句柄，newDefault 为文档不存在时的初始值
func NewDocument[T any](backend Backend, name string, newDefault func() T) *Document[T] {
	if newDefault == nil {
		newDefault = func() T {
			var zero T
			return zero
		}
	}
	return &Document[T]{
		backend:    backend,
		name:       name,
		newDefault: newDefault,
	}
}

// Name 返回文档名称
func (d *Document[T]) Name() string {
	return d.name
}

// Load 读取文档，不存在时返回默认值（不落盘）
func (d *Document[T]) Load(ctx context.Context) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, _, err := d.load(ctx)
	return v, err
}

// LoadOrCreate 读取文档，不存在时写入默认值
func (d *Document[T]) LoadOrCreate(ctx context.Context) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, found, err := d.load(ctx)
	if err != nil || found {
		return v, err
	}
	if err := d.save(ctx, v); err != nil {
		return v, err
	}
	return v, nil
}

// Update 在锁内完成读改写。fn 返回错误时不写入。
func (d *Document[T]) Update(ctx context.Context, fn func(v *T) error) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, _, err := d.load(ctx)
	if err != nil {
		return v, err
	}
	if err := fn(&v); err != nil {
		return v, err
	}
	if err := d.save(ctx, v); err != nil {
		return v, err
	}
	return v, nil
}

// Replace 整体覆盖文档
func (d *Document[T]) Replace(ctx context.Context, v T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.save(ctx, v)
}

func (d *Document[T]) load(ctx context.Context) (T, bool, error) {
	v := d.newDefault()

	data, err := d.backend.Read(ctx, d.name)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return v, false, nil
		}
		return v, false, fmt.Errorf("read %s: %w", d.name, err)
	}

	if len(data) == 0 || string(data) == "null" {
		return v, true, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return d.newDefault(), false, fmt.Errorf("decode %s: %w", d.name, err)
	}
	return v, true, nil
}

func (d *Document[T]) save(ctx context.Context, v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.name, err)
	}
	if err := d.backend.Write(ctx, d.name, data); err != nil {
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	return nil
}
