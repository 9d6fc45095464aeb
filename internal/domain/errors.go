package domain

import "errors"

// 业务错误定义，各层通过 errors.Is 判断
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnauthorized       = errors.New("password mismatch")
	ErrConflict           = errors.New("target key already taken")
	ErrNotInitialized     = errors.New("admin not initialized")
	ErrAlreadyInitialized = errors.New("admin already initialized")
	ErrSMTPNotConfigured  = errors.New("smtp not configured")
	ErrInvalidSettings    = errors.New("invalid settings")
)

// DeliveryError 邮件投递失败
type DeliveryError struct {
	JobID     string
	Email     string
	Permanent bool // 重试次数已耗尽
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return kind + " delivery failure to " + e.Email + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
