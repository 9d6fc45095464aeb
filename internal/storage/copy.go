package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CopyResult 单个文档的迁移结果
type CopyResult struct {
	Name    string
	Bytes   int
	Skipped bool
	Reason  string
}

// CopyDocuments 将 AllDocuments 从 src 复制到 dst。
// 源中不存在的文档跳过；overwrite 为 false 时目标已存在的文档也跳过。
func CopyDocuments(ctx context.Context, src, dst Backend, overwrite bool) ([]CopyResult, error) {
	results := make([]CopyResult, 0, len(AllDocuments))
	for _, name := range AllDocuments {
		data, err := src.Read(ctx, name)
		if errors.Is(err, ErrDocumentNotFound) {
			results = append(results, CopyResult{Name: name, Skipped: true, Reason: "source missing"})
			continue
		}
		if err != nil {
			return results, fmt.Errorf("read %s from source: %w", name, err)
		}
		if !json.Valid(data) {
			return results, fmt.Errorf("source document %s is not valid JSON", name)
		}

		if !overwrite {
			_, err := dst.Read(ctx, name)
			if err == nil {
				results = append(results, CopyResult{Name: name, Skipped: true, Reason: "target exists"})
				continue
			}
			if !errors.Is(err, ErrDocumentNotFound) {
				return results, fmt.Errorf("read %s from target: %w", name, err)
			}
		}

		if err := dst.Write(ctx, name, data); err != nil {
			return results, fmt.Errorf("write %s to target: %w", name, err)
		}
		results = append(results, CopyResult{Name: name, Bytes: len(data)})
	}
	return results, nil
}
