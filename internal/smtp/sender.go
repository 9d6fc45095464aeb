package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
)

// Sender 外发邮件客户端，每封邮件一次连接
type Sender struct {
	limiter *ConnectionLimiter
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewSender 创建外发客户端
func NewSender(cfg config.SMTPConfig, maxConns int, log *zap.Logger) *Sender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{
		limiter: NewConnectionLimiter(maxConns, cfg.RatePerSecond),
		timeout: timeout,
		log:     logger.OrNop(log),
		now:     time.Now,
	}
}

// Send 按管理端配置投递一封邮件
func (s *Sender) Send(ctx context.Context, settings domain.SMTPSettings, mail domain.OutgoingMail) error {
	if !settings.Configured() {
		return domain.ErrSMTPNotConfigured
	}

	msg, err := s.buildMessage(settings, mail)
	if err != nil {
		return err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.limiter.Release()

	conn, err := s.dialContext(ctx, settings)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to %s: %w", settings.Address(), err)
	}
	// ctx 取消时中断连接，握手与问候阶段同样生效
	stop := closeOnDone(ctx, conn)
	defer stop()

	c, err := s.newClient(ctx, conn, settings)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to %s: %w", settings.Address(), err)
	}
	defer c.Close()

	if settings.User != "" {
		if err := c.Auth(sasl.NewPlainClient("", settings.User, settings.Pass)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.SendMail(settings.From, []string{mail.To}, bytes.NewReader(msg)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("smtp send failed: %w", err)
	}

	if err := c.Quit(); err != nil {
		s.log.Debug("smtp quit failed", zap.Error(err))
	}

	s.log.Debug("mail delivered",
		zap.String("email", mail.To),
		zap.String("server", settings.Address()),
	)
	return nil
}

// buildMessage 生成 MIME 邮件
func (s *Sender) buildMessage(settings domain.SMTPSettings, mail domain.OutgoingMail) ([]byte, error) {
	part, err := enmime.Builder().
		From(settings.FromName, settings.From).
		To("", mail.To).
		Subject(mail.Subject).
		HTML([]byte(mail.HTML)).
		Date(s.now()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// dialContext 建立 TCP 连接，之后每次网络读写都受 s.timeout 约束
func (s *Sender) dialContext(ctx context.Context, settings domain.SMTPSettings) (net.Conn, error) {
	dialer := net.Dialer{Timeout: s.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", settings.Address())
	if err != nil {
		return nil, err
	}
	conn := &deadlineConn{Conn: raw, limit: s.timeout}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// newClient 按加密方式完成握手：ssl 为隐式 TLS，tls 为 STARTTLS
func (s *Sender) newClient(ctx context.Context, conn net.Conn, settings domain.SMTPSettings) (*gosmtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         settings.Host,
		InsecureSkipVerify: settings.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	var c *gosmtp.Client
	switch settings.Secure {
	case domain.SecureSSL:
		tlsConn := tls.Client(conn, tlsConfig)
		handshakeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			return nil, fmt.Errorf("tls handshake failed: %w", err)
		}
		c = gosmtp.NewClient(tlsConn)
	case domain.SecureTLS:
		var err error
		c, err = gosmtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("starttls failed: %w", err)
		}
	default:
		c = gosmtp.NewClient(conn)
	}

	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout
	return c, nil
}

// closeOnDone 在 ctx 结束时关闭连接，返回的 stop 解除监听
func closeOnDone(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// ProbeMail 测试邮件内容
func ProbeMail(to string, at time.Time) domain.OutgoingMail {
	return domain.OutgoingMail{
		To:      to,
		Subject: "📧 SMTP服务测试",
		HTML: fmt.Sprintf(`
<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #e11d48;">📧 SMTP服务测试</h2>
  <p style="font-size: 16px; line-height: 1.5;">这是一封测试邮件，用于验证SMTP服务是否配置正确。</p>
  <p style="font-size: 16px; line-height: 1.5;">如果您收到这封邮件，说明SMTP服务已经配置成功！</p>
  <div style="margin-top: 20px; padding: 15px; background: #f3f4f6; border-radius: 6px;">
    <p style="margin: 0; color: #4b5563;">发送时间：%s</p>
  </div>
</div>`, at.Format("2006-01-02 15:04:05")),
	}
}
