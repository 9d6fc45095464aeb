package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	jwtpkg "letterdrop/backend/internal/auth/jwt"
	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/service"
	"letterdrop/backend/internal/storage/driver"
)

func main() {
	password := flag.String("password", "", "管理员密码")
	flag.Parse()

	if *password == "" {
		fmt.Println("Usage: init-admin -password <password>")
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	// 打开与服务端相同的文档存储
	backend, err := driver.Open(cfg, "", log)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	tokens := jwtpkg.NewManager(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenExpiry)
	admin := service.NewAdminService(backend, tokens, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := admin.SetAdminPassword(ctx, *password); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyInitialized):
			fmt.Println("Admin password is already set; change it from the admin panel instead")
		case errors.Is(err, domain.ErrInvalidPassword), errors.Is(err, domain.ErrPasswordTooLong):
			fmt.Printf("Invalid password: %v\n", err)
		default:
			fmt.Printf("Failed to set admin password: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("✓ Admin password set successfully!")
	fmt.Printf("  Storage: %s\n", cfg.Storage.Driver)
	fmt.Println("  Log in at /api/admin/auth to obtain a session token")
}
