// Package artifacts keeps durable copies of round recordings, on local disk
// or in an S3-compatible bucket.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// FileStore copies recordings into a directory it owns.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

// Put copies srcPath to <dir>/<id><ext>. Repeating a Put for an id whose
// copy already has the same size is a no-op.
func (s *FileStore) Put(ctx context.Context, id string, srcPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateID(id); err != nil {
		return "", err
	}
	dst := filepath.Join(s.dir, id+extension(srcPath))
	if filepath.Clean(srcPath) == dst {
		return fileScheme + dst, nil
	}

	src, err := os.Stat(srcPath)
	if err != nil {
		return "", fmt.Errorf("stat recording: %w", err)
	}
	if existing, err := os.Stat(dst); err == nil && existing.Size() == src.Size() {
		return fileScheme + dst, nil
	}

	if err := copyAtomic(srcPath, dst); err != nil {
		return "", err
	}
	return fileScheme + dst, nil
}

// Local resolves a file:// uri to a path that exists.
func (s *FileStore) Local(_ context.Context, uri string) (string, error) {
	path, ok := strings.CutPrefix(uri, fileScheme)
	if !ok {
		return "", fmt.Errorf("unsupported artifact uri %q", uri)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	return path, nil
}

func copyAtomic(srcPath, dst string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer in.Close()
	return writeAtomic(in, dst)
}

// writeAtomic streams r into dst through a temp file in the same directory.
func writeAtomic(r io.Reader, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid artifact id %q", id)
	}
	return nil
}

func extension(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".wav"
}

// ParseURI splits a "scheme://host/path" artifact uri.
func ParseURI(uri string) (scheme, host, path string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("parse artifact uri: %w", err)
	}
	if parsed.Scheme == "" {
		return "", "", "", errors.New("artifact uri has no scheme")
	}
	return parsed.Scheme, parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}
