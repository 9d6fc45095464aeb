package smtp

import (
	"net"
	"time"
)

// deadlineConn 把连接上的截止时间限制在 limit 之内。
// 零值截止时间同样被改写为 now+limit，因此握手、问候与命令都不会无限等待。
type deadlineConn struct {
	net.Conn
	limit time.Duration
}

func (c *deadlineConn) clamp(t time.Time) time.Time {
	ceiling := time.Now().Add(c.limit)
	if t.IsZero() || t.After(ceiling) {
		return ceiling
	}
	return t
}

func (c *deadlineConn) SetDeadline(t time.Time) error {
	return c.Conn.SetDeadline(c.clamp(t))
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(c.clamp(t))
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(c.clamp(t))
}
