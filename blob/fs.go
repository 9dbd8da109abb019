package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FS stores blobs as files under Root.
type FS struct {
	Root string
}

// NewFS creates the evidence directory under root if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(filepath.Join(root, "evidence"), 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{Root: root}, nil
}

func (f *FS) Put(ctx context.Context, data []byte, contentType string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ct, err := checkContent(data, contentType)
	if err != nil {
		return "", err
	}

	ref := newRef(ct)
	path := f.path(ref)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

func (f *FS) Get(ctx context.Context, ref Ref) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if !validRef(ref) {
		return nil, "", ErrInvalidRef
	}
	data, err := os.ReadFile(f.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("read blob: %w", err)
	}
	return data, contentTypeOf(ref), nil
}

func (f *FS) path(ref Ref) string {
	return filepath.Join(f.Root, filepath.FromSlash(string(ref)))
}
