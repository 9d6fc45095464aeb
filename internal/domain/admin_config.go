package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SecureMode SMTP 加密方式
type SecureMode string

const (
	SecureNone SecureMode = "none"
	SecureSSL  SecureMode = "ssl" // 隐式 TLS
	SecureTLS  SecureMode = "tls" // STARTTLS
)

// UnmarshalJSON 接受 "none"/"ssl"/"tls"，以及旧版管理面板保存的布尔值（true 为 ssl）
func (m *SecureMode) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "null":
		*m = ""
		return nil
	case "true":
		*m = SecureSSL
		return nil
	case "false":
		*m = SecureNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid secure mode: %s", data)
	}
	*m = SecureMode(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

// AdminConfig 管理端配置，持久化在 admin 文档中
type AdminConfig struct {
	Initialized   bool          `json:"initialized"`
	PasswordHash  *string       `json:"password"`
	SMTP          SMTPSettings  `json:"smtp"`
	EmailTemplate EmailTemplate `json:"emailTemplate"`
}

// SMTPSettings 外发邮件服务配置
type SMTPSettings struct {
	Host               string     `json:"host"`
	Port               Port       `json:"port"`
	Secure             SecureMode `json:"secure"`
	User               string     `json:"user"`
	Pass               string     `json:"pass"`
	From               string     `json:"from"`
	FromName           string     `json:"fromName"`
	InsecureSkipVerify bool       `json:"insecureSkipVerify,omitempty"`
}

// Configured 是否已配置可用的发件服务
func (s SMTPSettings) Configured() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.From) != ""
}

// Address 返回 host:port，未配置端口时按加密方式取默认值
func (s SMTPSettings) Address() string {
	port := int(s.Port)
	if port == 0 {
		switch s.Secure {
		case SecureSSL:
			port = 465
		case SecureTLS:
			port = 587
		default:
			port = 25
		}
	}
	return fmt.Sprintf("%s:%d", s.Host, port)
}

// Validate 校验配置格式（允许整体为空，表示关闭通知）
func (s SMTPSettings) Validate() error {
	switch s.Secure {
	case "", SecureNone, SecureSSL, SecureTLS:
	default:
		return fmt.Errorf("invalid secure mode %q", s.Secure)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.From != "" && !ValidateEmail(s.From) {
		return fmt.Errorf("invalid from address %q", s.From)
	}
	return nil
}

// Port 端口号，兼容 JSON 数字与字符串两种写法
type Port int

// UnmarshalJSON 接受 25、"25" 与 ""
func (p *Port) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Port(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid port: %s", data)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port: %q", s)
	}
	*p = Port(n)
	return nil
}

// EmailTemplate 通知邮件模板，支持 {{key}} 与 {{url}} 占位符
type EmailTemplate struct {
	Subject  string `json:"subject"`
	Template string `json:"template"`
}

// 默认通知模板
const (
	DefaultEmailSubject  = "💌 你关注的信件有了新的回复"
	DefaultEmailTemplate = `
<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #e11d48;">💌 收到新的信件</h2>
  <p style="font-size: 16px; line-height: 1.5;">你关注的信件有了新的回复，请使用密钥 <strong>{{key}}</strong> 查看最新内容。</p>
  <p style="font-size: 16px; line-height: 1.5;">点击下面的链接前往查看：</p>
  <a href="{{url}}" style="display: inline-block; background: #e11d48; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin-top: 10px;">查看信件</a>
</div>`
)

// DefaultAdminConfig 返回首次读取时写入的默认配置
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Initialized:  false,
		PasswordHash: nil,
		SMTP: SMTPSettings{
			Secure: SecureNone,
		},
		EmailTemplate: EmailTemplate{
			Subject:  DefaultEmailSubject,
			Template: DefaultEmailTemplate,
		},
	}
}

// Stats 访问统计，持久化在 stats 文档中
type Stats struct {
	Visits    int64     `json:"visits"`
	LastReset time.Time `json:"lastReset"`
}

// DefaultStats 返回初始统计
func DefaultStats() Stats {
	return Stats{LastReset: time.Now().UTC()}
}
