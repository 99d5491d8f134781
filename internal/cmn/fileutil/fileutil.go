package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned when a copy would exceed its size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// ResolvePath expands environment variables and a leading ~, then returns
// the cleaned absolute path. An empty path stays empty.
func ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}

	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[1:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return filepath.Clean(absPath), nil
}

// ResolvePathOrBlank is ResolvePath returning the input unchanged on error.
func ResolvePathOrBlank(path string) string {
	resolved, err := ResolvePath(path)
	if err != nil {
		return path
	}
	return resolved
}

// CopyFile copies src to dst, creating dst's parent directories. A positive
// maxSize rejects sources larger than maxSize bytes before copying.
func CopyFile(src, dst string, maxSize int64) (int64, error) {
	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", src)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, src, info.Size(), maxSize)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return n, nil
}
