package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"corecompliance/pkg/platform/sentinel"
)

// LocalStore keeps evidence files under a root directory. Locators are
// paths relative to the root; they never escape it.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Put(_ context.Context, name string, content io.Reader) (string, error) {
	locator := uuid.NewString() + "_" + filepath.Base(name)
	f, err := os.Create(filepath.Join(s.root, locator))
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, content); err != nil {
		return "", fmt.Errorf("write evidence file: %w", err)
	}
	return locator, nil
}

func (s *LocalStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("evidence %q: %w", locator, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open evidence file: %w", err)
	}
	return f, nil
}

// resolve rejects locators that would escape the root directory.
func (s *LocalStore) resolve(locator string) (string, error) {
	if locator == "" || filepath.IsAbs(locator) {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	path := filepath.Join(s.root, filepath.Clean(locator))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return path, nil
}
