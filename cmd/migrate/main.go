package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/storage"
	"letterdrop/backend/internal/storage/driver"
	"letterdrop/backend/internal/storage/filesystem"
)

func main() {
	// 解析命令行参数
	from := flag.String("from", "", "源存储: file:<目录> 或驱动名 (file, redis, sql)")
	to := flag.String("to", "", "目标存储驱动: redis, sql, file")
	overwrite := flag.Bool("overwrite", false, "覆盖目标中已存在的文档")
	flag.Parse()

	if *from == "" || *to == "" {
		fmt.Println("用法:")
		fmt.Println("  go run cmd/migrate/main.go -from=file:server/data -to=redis")
		fmt.Println("  LETTERDROP_DATABASE_TYPE=postgres LETTERDROP_DATABASE_DSN='postgres://...' go run cmd/migrate/main.go -from=file:server/data -to=sql")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		fmt.Printf("错误: 初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	src, err := openSource(cfg, *from, log)
	if err != nil {
		fmt.Printf("错误: 无法打开源存储: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	dst, err := driver.Open(cfg, *to, log)
	if err != nil {
		fmt.Printf("错误: 无法打开目标存储: %v\n", err)
		os.Exit(1)
	}
	defer dst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := dst.Health(ctx); err != nil {
		fmt.Printf("错误: 目标存储不可用: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ 成功连接到 %s 存储\n", *to)

	results, err := storage.CopyDocuments(ctx, src, dst, *overwrite)
	for _, r := range results {
		if r.Skipped {
			fmt.Printf("- 跳过 %s (%s)\n", r.Name, r.Reason)
			continue
		}
		fmt.Printf("✓ 已迁移 %s (%d 字节)\n", r.Name, r.Bytes)
	}
	if err != nil {
		log.Error("migration failed", zap.Error(err))
		fmt.Printf("错误: 迁移失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ 迁移完成")
	fmt.Println("  信件文件不在迁移范围内，仍保留在 messages 目录")
}

// openSource 解析 -from 参数，file:<目录> 直接打开该目录，其余按驱动名打开
func openSource(cfg *config.Config, source string, log *zap.Logger) (storage.Backend, error) {
	if dir, ok := strings.CutPrefix(source, "file:"); ok {
		if dir == "" {
			return nil, fmt.Errorf("file source requires a directory")
		}
		return filesystem.NewStore(dir)
	}
	return driver.Open(cfg, source, log)
}
