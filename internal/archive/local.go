package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore archives uploads under a directory and hands out file:// URIs.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("NewLocalStore: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("NewLocalStore: resolve %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("NewLocalStore: create %q: %w", abs, err)
	}
	return &LocalStore{dir: abs}, nil
}

// Put implements Store.
func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	target, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("LocalStore.Put: create dir: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("LocalStore.Put: create %q: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("LocalStore.Put: write %q: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("LocalStore.Put: finalize %q: %w", target, err)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(target)}
	return u.String(), nil
}

// Open implements Store.
func (s *LocalStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return nil, fmt.Errorf("LocalStore.Open: invalid file URI: %s", uri)
	}

	p := filepath.Clean(filepath.FromSlash(u.Path))
	if !within(s.dir, p) {
		return nil, fmt.Errorf("LocalStore.Open: %s is outside the archive", uri)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("LocalStore.Open: %w", err)
	}
	return f, nil
}

func (s *LocalStore) resolve(name string) (string, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(name))
	if !within(s.dir, p) {
		return "", fmt.Errorf("LocalStore: name %q escapes the archive", name)
	}
	return p, nil
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
