package domain

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// 验证相关的错误定义
var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrKeyTooLong      = errors.New("key too long (max 200 bytes)")
	ErrInvalidPassword = errors.New("password required")
	ErrPasswordTooLong = errors.New("password too long (max 72 bytes)")
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrEmailTooLong    = errors.New("email address too long")
	ErrContentRequired = errors.New("content required")
	ErrContentTooLong  = errors.New("content too long")
)

// 验证常量
const (
	MaxKeyLength       = 200
	MaxPasswordLength  = 72 // bcrypt 只使用前 72 字节
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
	MaxContentLength   = 1 << 20
)

var (
	// 本地部分：字母数字开头结尾，中间允许 . _ - +
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

	// 域名：至少两级标签
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
)

// ValidateKey 校验密钥。密钥会成为文件名的一部分，因此禁止路径分隔符与控制字符
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.HasPrefix(key, ".") {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r == '/' || r == '\\' || r == 0 || unicode.IsControl(r) {
			return ErrInvalidKey
		}
	}
	return nil
}

// ValidatePassword 校验密码
func ValidatePassword(password string) error {
	if password == "" {
		return ErrInvalidPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateContent 校验信件内容
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrContentRequired
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// ValidateEmailError 校验邮箱地址并返回错误
func ValidateEmailError(email string) error {
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !ValidateEmail(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateEmail 校验裸邮箱地址：本地部分与域名分别匹配正则
func ValidateEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	localPart, domainPart := email[:at], email[at+1:]

	if len(localPart) > MaxLocalPartLength || !localPartRegex.MatchString(localPart) || strings.Contains(localPart, "..") {
		return false
	}
	if len(domainPart) > MaxDomainLength || !domainRegex.MatchString(domainPart) {
		return false
	}
	return true
}
