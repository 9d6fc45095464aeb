package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword 空密码不能被哈希
var ErrEmptyPassword = errors.New("password is empty")

// 旧版本存储的是 32 位十六进制 MD5 摘要
var legacyDigestRegex = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsLegacyHash 判断是否为旧版 MD5 摘要
func IsLegacyHash(hash string) bool {
	return legacyDigestRegex.MatchString(hash)
}

// CheckPassword 检查密码是否匹配。
// 第二个返回值表示匹配成功但哈希需要升级为 bcrypt。
func CheckPassword(password, hash string) (bool, bool) {
	if hash == "" {
		return false, false
	}

	if IsLegacyHash(hash) {
		sum := md5.Sum([]byte(password))
		digest := hex.EncodeToString(sum[:])
		ok := subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(hash))) == 1
		return ok, ok
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil, false
}
