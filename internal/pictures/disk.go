package pictures

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps pictures under a directory that the app serves at URLPrefix.
type DiskStore struct {
	Dir       string
	URLPrefix string
}

func NewDiskStore(dir, urlPrefix string) *DiskStore {
	return &DiskStore{Dir: dir, URLPrefix: strings.TrimRight(urlPrefix, "/")}
}

func (s *DiskStore) Save(_ context.Context, key, _ string, data []byte) (string, error) {
	full, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create picture dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write picture %s: %w", key, err)
	}
	return s.URLPrefix + "/" + key, nil
}

func (s *DiskStore) Delete(_ context.Context, ref string) error {
	key, ok := strings.CutPrefix(ref, s.URLPrefix+"/")
	if !ok {
		return fmt.Errorf("picture %q is not served from %s", ref, s.URLPrefix)
	}
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DiskStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid picture key %q", key)
	}
	return filepath.Join(s.Dir, clean), nil
}
