package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Letter 一封信件，对应 messages 目录下的一个文件
type Letter struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// LetterEvent 信件变更事件，推送给 WebSocket 订阅者
type LetterEvent struct {
	Type   string  `json:"type"`
	Key    string  `json:"key"`
	Letter *Letter `json:"letter,omitempty"`
	ID     string  `json:"id,omitempty"`
}

// 信件事件类型
const (
	LetterCreated = "letter.created"
	LetterUpdated = "letter.updated"
	LetterDeleted = "letter.deleted"
)

// ErrInvalidLetterID 信件ID格式错误
var ErrInvalidLetterID = errors.New("invalid letter id")

const letterTimeLayout = "2006-01-02T15:04:05.000Z"

// 形如 2024-05-01T08-30-15-123Z，冲突时追加 -N
var letterIDRegex = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2})-(\d{2})-(\d{2})-(\d{3})Z(?:-(\d+))?$`)

var letterIDReplacer = strings.NewReplacer(":", "-", ".", "-")

// NewLetterID 根据创建时间生成信件ID，attempt > 0 时追加冲突计数
func NewLetterID(t time.Time, attempt int) string {
	id := letterIDReplacer.Replace(t.UTC().Format(letterTimeLayout))
	if attempt > 0 {
		id += "-" + strconv.Itoa(attempt)
	}
	return id
}

// ParseLetterID 解析信件ID，返回创建时间和冲突计数
func ParseLetterID(id string) (time.Time, int, error) {
	m := letterIDRegex.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidLetterID, id)
	}

	t, err := time.Parse(letterTimeLayout, m[1]+":"+m[2]+":"+m[3]+"."+m[4]+"Z")
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidLetterID, id)
	}

	seq := 0
	if m[5] != "" {
		seq, err = strconv.Atoi(m[5])
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidLetterID, id)
		}
	}
	return t, seq, nil
}

// IsLetterID 判断字符串是否为合法的信件ID
func IsLetterID(id string) bool {
	_, _, err := ParseLetterID(id)
	return err == nil
}
