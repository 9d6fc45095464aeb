package domain

import "time"

// KeyRecord 密钥记录，持久化在 keys 文档中（key -> record）
type KeyRecord struct {
	Key          string    `json:"-"`
	PasswordHash string    `json:"password"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
}

// KeySet keys 文档的内存表示
type KeySet map[string]KeyRecord

// VerifyResult 密码校验结果
type VerifyResult struct {
	Exists bool `json:"exists"`
	Valid  bool `json:"valid"`
}

// KeyInfo 管理端展示用，不包含密码哈希
type KeyInfo struct {
	Key             string    `json:"key"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
	LetterCount     int       `json:"letterCount"`
	SubscriberCount int       `json:"subscriberCount"`
}
