package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mycloud/internal/apperrors"
)

const tmpDirName = "tmp"

// Local stores content as one file per key in a sharded directory tree.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates a local content store rooted at root.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("content store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, tmpDirName), 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

// Put streams r into a temp file, syncs it, and links it into place.
// The link fails if the destination exists, so content is never overwritten.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if l == nil {
		return 0, fmt.Errorf("content store is not configured")
	}
	if r == nil {
		return 0, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst, err := l.pathFromKey(key)
	if err != nil {
		return 0, err
	}

	if _, err := os.Stat(dst); err == nil {
		return 0, ErrKeyCollision
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, apperrors.IO(err, "stat content")
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, tmpDirName), "put-*")
	if err != nil {
		return 0, apperrors.IO(err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		return 0, copyError(err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, apperrors.IO(err, "sync content")
	}
	if err := tmp.Close(); err != nil {
		return 0, apperrors.IO(err, "close content")
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, apperrors.IO(err, "create shard directory")
	}
	if err := os.Link(tmpPath, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, ErrKeyCollision
		}
		return 0, apperrors.IO(err, "publish content")
	}

	return n, nil
}

// Open returns a reader for the content stored under key.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if l == nil {
		return nil, fmt.Errorf("content store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, apperrors.IO(err, "open content")
	}
	return f, nil
}

// Delete removes content for key. Missing files are ignored.
func (l *Local) Delete(ctx context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("content store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.IO(err, "delete content")
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("content store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, apperrors.IO(err, "stat content")
	}
	return info.Mode().IsRegular(), nil
}

// Walk visits every stored key. In-flight temp files are skipped.
func (l *Local) Walk(ctx context.Context, fn func(key string) error) error {
	if l == nil {
		return fmt.Errorf("content store is not configured")
	}
	tmpRoot := filepath.Join(l.root, tmpDirName)
	return filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == tmpRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		key := d.Name()
		if ValidateKey(key) != nil {
			return nil
		}
		return fn(key)
	})
}

func (l *Local) pathFromKey(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, shardPath(key)), nil
}

func copyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.IO(err, "write content")
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
