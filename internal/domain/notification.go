package domain

import "time"

// MaxRetry 单个通知任务的最大投递失败次数
const MaxRetry = 3

// NotificationJob 待投递的通知邮件
type NotificationJob struct {
	ID         string    `json:"id,omitempty"`
	Email      string    `json:"email"`
	Subject    string    `json:"subject"`
	HTML       string    `json:"html"`
	Key        string    `json:"key"`
	RetryCount int       `json:"retryCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Exhausted 是否已达到重试上限
func (j *NotificationJob) Exhausted() bool {
	return j.RetryCount >= MaxRetry
}

// SubscriberSet subscribers 文档：key -> 邮箱列表
type SubscriberSet map[string][]string

// OutgoingMail 一封待发送的邮件
type OutgoingMail struct {
	To      string
	Subject string
	HTML    string
}
