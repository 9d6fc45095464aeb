package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// getInvalidChars 获取当前平台文件名中不允许的字符
func (p *PlatformUtils) getInvalidChars() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	case "darwin", "linux":
		return []string{"/", "\x00"}
	default:
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
}

// GetMaxFilenameLength 单个文件名的最大字节数
func (p *PlatformUtils) GetMaxFilenameLength() int {
	switch runtime.GOOS {
	case "windows":
		return 240
	default:
		return 255
	}
}

// IsValidFilename 检查文件名是否可以直接落盘
func (p *PlatformUtils) IsValidFilename(filename string) bool {
	if filename == "" {
		return false
	}

	// 不能只包含空格和点
	if strings.Trim(filename, " .") == "" {
		return false
	}

	for _, char := range p.getInvalidChars() {
		if strings.Contains(filename, char) {
			return false
		}
	}

	return len(filename) <= p.GetMaxFilenameLength()
}

// ValidatePath 验证数据目录是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}
	return nil
}

// NormalizePath 转换为绝对路径并清理
func (p *PlatformUtils) NormalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(absPath)
}

// EnsureDir 校验并创建目录，返回标准化后的路径
func (p *PlatformUtils) EnsureDir(path string) (string, error) {
	if err := p.ValidatePath(path); err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	normalized := p.NormalizePath(path)
	if err := os.MkdirAll(normalized, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return normalized, nil
}

// ProbeWritable 在目录中创建并删除一个探测文件
func (p *PlatformUtils) ProbeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// writeFileAtomic 先写临时文件再重命名，读者不会看到写了一半的内容
func writeFileAtomic(path string, data []byte) error {
	tmp, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// createExclusive 以 O_EXCL 创建 path 并写入 data，文件已存在时返回 fs.ErrExist。
// 写入失败会删除已创建的文件。
func createExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// writeTemp 在 dir 下写入一个已 fsync 的临时文件，返回其路径
func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(name, 0644); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to chmod temp file: %w", err)
	}
	return name, nil
}
