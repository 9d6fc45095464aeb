package smtp

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/domain"
)

// captureBackend 记录收到的邮件，rejectRcpt 非空时拒绝该收件人
type captureBackend struct {
	mu         sync.Mutex
	messages   []capturedMessage
	rejectRcpt string
	user, pass string
}

type capturedMessage struct {
	from string
	to   []string
	data []byte
	auth string
}

func (b *captureBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &captureSession{backend: b}, nil
}

func (b *captureBackend) received() []capturedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]capturedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

type captureSession struct {
	backend *captureBackend
	msg     capturedMessage
}

func (s *captureSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *captureSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.user || password != s.backend.pass {
			return errors.New("invalid credentials")
		}
		s.msg.auth = username
		return nil
	}), nil
}

func (s *captureSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.msg.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if to == s.backend.rejectRcpt {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.msg.to = append(s.msg.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = data

	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

func (s *captureSession) Reset() {
	auth := s.msg.auth
	s.msg = capturedMessage{auth: auth}
}

func (s *captureSession) Logout() error {
	return nil
}

func startCaptureServer(t *testing.T, be *captureBackend) domain.SMTPSettings {
	return startCaptureServerMode(t, be, domain.SecureNone)
}

// startCaptureServerMode 启动本地 SMTP 服务，ssl 使用 TLS 监听，tls 提供 STARTTLS
func startCaptureServerMode(t *testing.T, be *captureBackend, secure domain.SecureMode) domain.SMTPSettings {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := gosmtp.NewServer(be)
	switch secure {
	case domain.SecureSSL:
		l = tls.NewListener(l, selfSignedTLSConfig(t))
	case domain.SecureTLS:
		s.TLSConfig = selfSignedTLSConfig(t)
	}
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ReadTimeout = 5 * time.Second
	s.WriteTimeout = 5 * time.Second

	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return domain.SMTPSettings{
		Host:               "127.0.0.1",
		Port:               domain.Port(port),
		Secure:             secure,
		From:               "noreply@letters.example",
		FromName:           "信箱",
		InsecureSkipVerify: secure != domain.SecureNone,
	}
}

func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}

// startSilentServer 接受连接但从不应答
func startSilentServer(t *testing.T) domain.SMTPSettings {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	port := l.Addr().(*net.TCPAddr).Port
	return domain.SMTPSettings{
		Host:               "127.0.0.1",
		Port:               domain.Port(port),
		From:               "noreply@letters.example",
		InsecureSkipVerify: true,
	}
}

func newTestSender() *Sender {
	return NewSender(config.SMTPConfig{Timeout: 5 * time.Second}, 2, nil)
}

func TestSender_Send(t *testing.T) {
	be := &captureBackend{}
	settings := startCaptureServer(t, be)
	sender := newTestSender()

	err := sender.Send(context.Background(), settings, domain.OutgoingMail{
		To:      "reader@example.com",
		Subject: "💌 新的信件",
		HTML:    "<p>请使用密钥 <strong>abc</strong> 查看</p>",
	})
	require.NoError(t, err)

	msgs := be.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "noreply@letters.example", msgs[0].from)
	assert.Equal(t, []string{"reader@example.com"}, msgs[0].to)

	env, err := enmime.ReadEnvelope(bytes.NewReader(msgs[0].data))
	require.NoError(t, err)
	assert.Equal(t, "💌 新的信件", env.GetHeader("Subject"))
	assert.Contains(t, env.GetHeader("From"), "noreply@letters.example")
	assert.Contains(t, env.HTML, "<strong>abc</strong>")
}

func TestSender_SecureModes(t *testing.T) {
	for _, secure := range []domain.SecureMode{domain.SecureSSL, domain.SecureTLS} {
		t.Run(string(secure), func(t *testing.T) {
			be := &captureBackend{user: "mailer", pass: "s3cret"}
			settings := startCaptureServerMode(t, be, secure)
			settings.User, settings.Pass = "mailer", "s3cret"

			err := newTestSender().Send(context.Background(), settings, domain.OutgoingMail{
				To:      "reader@example.com",
				Subject: "hi",
				HTML:    "<p>hi</p>",
			})
			require.NoError(t, err)

			msgs := be.received()
			require.Len(t, msgs, 1)
			assert.Equal(t, "mailer", msgs[0].auth)
			assert.Equal(t, []string{"reader@example.com"}, msgs[0].to)
		})
	}
}

func TestSender_StalledServer(t *testing.T) {
	mail := domain.OutgoingMail{To: "reader@example.com", Subject: "hi", HTML: "<p>hi</p>"}
	modes := []domain.SecureMode{domain.SecureNone, domain.SecureSSL, domain.SecureTLS}

	t.Run("context deadline", func(t *testing.T) {
		for _, secure := range modes {
			t.Run(string(secure), func(t *testing.T) {
				settings := startSilentServer(t)
				settings.Secure = secure
				sender := NewSender(config.SMTPConfig{Timeout: 10 * time.Second}, 1, nil)

				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				defer cancel()

				start := time.Now()
				err := sender.Send(ctx, settings, mail)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				assert.Less(t, time.Since(start), 3*time.Second)
			})
		}
	})

	t.Run("configured timeout", func(t *testing.T) {
		for _, secure := range modes {
			t.Run(string(secure), func(t *testing.T) {
				settings := startSilentServer(t)
				settings.Secure = secure
				sender := NewSender(config.SMTPConfig{Timeout: 300 * time.Millisecond}, 1, nil)

				start := time.Now()
				err := sender.Send(context.Background(), settings, mail)
				require.Error(t, err)
				assert.Less(t, time.Since(start), 3*time.Second)
			})
		}
	})
}

func TestSender_Auth(t *testing.T) {
	be := &captureBackend{user: "mailer", pass: "s3cret"}
	settings := startCaptureServer(t, be)
	sender := newTestSender()
	mail := domain.OutgoingMail{To: "reader@example.com", Subject: "hi", HTML: "<p>hi</p>"}

	t.Run("valid credentials", func(t *testing.T) {
		s := settings
		s.User, s.Pass = "mailer", "s3cret"
		require.NoError(t, sender.Send(context.Background(), s, mail))

		msgs := be.received()
		require.Len(t, msgs, 1)
		assert.Equal(t, "mailer", msgs[0].auth)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		s := settings
		s.User, s.Pass = "mailer", "wrong"
		err := sender.Send(context.Background(), s, mail)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp auth failed")
	})
}

func TestSender_Failures(t *testing.T) {
	mail := domain.OutgoingMail{To: "reader@example.com", Subject: "hi", HTML: "<p>hi</p>"}

	t.Run("not configured", func(t *testing.T) {
		err := newTestSender().Send(context.Background(), domain.SMTPSettings{}, mail)
		assert.ErrorIs(t, err, domain.ErrSMTPNotConfigured)
	})

	t.Run("recipient rejected", func(t *testing.T) {
		be := &captureBackend{rejectRcpt: "reader@example.com"}
		settings := startCaptureServer(t, be)

		err := newTestSender().Send(context.Background(), settings, mail)
		require.Error(t, err)

		var smtpErr *gosmtp.SMTPError
		assert.True(t, errors.As(err, &smtpErr))
		assert.Empty(t, be.received())
	})

	t.Run("connection refused", func(t *testing.T) {
		settings := domain.SMTPSettings{Host: "127.0.0.1", Port: 1, From: "a@example.com"}
		err := newTestSender().Send(context.Background(), settings, mail)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect")
	})

	t.Run("cancelled context", func(t *testing.T) {
		be := &captureBackend{}
		settings := startCaptureServer(t, be)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := newTestSender().Send(ctx, settings, mail)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestProbeMail(t *testing.T) {
	mail := ProbeMail("admin@example.com", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "admin@example.com", mail.To)
	assert.Contains(t, mail.Subject, "SMTP服务测试")
	assert.Contains(t, mail.HTML, "2024-01-02 03:04:05")
}

func TestConnectionLimiter(t *testing.T) {
	l := NewConnectionLimiter(1, 0)
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, 1, l.Current())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx), "second slot is not available")

	l.Release()
	assert.Equal(t, 0, l.Current())
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
}
