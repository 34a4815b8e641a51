package fsx

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalFS implements FS directly against the local disk using the standard
// library, matching the teacher's own os.MkdirAll/os.Create/os.WalkDir
// idiom (collector/cmd/datalake.go, cache.go) rather than introducing a
// virtual-filesystem dependency the reference corpus never reaches for.
type LocalFS struct{}

// NewLocalFS returns the default disk-backed collaborator.
func NewLocalFS() *LocalFS { return &LocalFS{} }

func (LocalFS) List(ctx context.Context, root string) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == root {
					return nil
				}
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".staging-") {
					return filepath.SkipDir
				}
				return nil
			}
			select {
			case out <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errc <- err
		}
	}()
	return out, errc
}

func (LocalFS) OpenRead(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, -1, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, -1, err
	}
	return f, info.Size(), nil
}

func (LocalFS) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (LocalFS) Rename(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device or other rename failure: fall back to copy+delete so the
	// same contract holds as for an object-store implementation.
	return copyThenDelete(src, dst)
}

func copyThenDelete(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (LocalFS) Remove(ctx context.Context, path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (LocalFS) RemoveTree(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

func (LocalFS) Stat(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return -1, err
	}
	return info.Size(), nil
}
