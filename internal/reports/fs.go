package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dir is a directory whose files are written atomically.
type dir struct {
	root string // absolute path
}

func openDir(root string) (*dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("reports: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("reports: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("reports: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("reports: root is not a directory: %s", abs)
	}
	return &dir{root: abs}, nil
}

// safePath resolves name against the root and rejects anything that
// escapes it.
func (d *dir) safePath(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if name == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("reports: invalid name %q", name)
	}
	abs, err := filepath.Abs(filepath.Join(d.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("reports: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("reports: path escapes root: %s", name)
	}
	return abs, nil
}

func (d *dir) read(name string) ([]byte, error) {
	abs, err := d.safePath(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// write replaces name atomically: temp file, fsync, rename.
func (d *dir) write(name string, content []byte) error {
	abs, err := d.safePath(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".sift-tmp-*")
	if err != nil {
		return fmt.Errorf("reports: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("reports: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("reports: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("reports: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("reports: rename: %w", err)
	}
	success = true
	return nil
}

func (d *dir) remove(name string) error {
	abs, err := d.safePath(name)
	if err != nil {
		return err
	}
	return os.Remove(abs)
}
