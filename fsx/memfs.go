package fsx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemFS is an in-memory FS used by the merge engine's test suite to exercise
// staging, promotion, and partial-failure paths without touching disk. When
// CopyDeleteOnly is set it refuses native rename, forcing callers through the
// copy+delete fallback the spec requires object-store implementations to
// support.
type MemFS struct {
	mu             sync.Mutex
	files          map[string][]byte
	CopyDeleteOnly bool

	// FailRenameOf, when non-empty, causes Rename to fail whenever src
	// equals this path. Used to test PartialPromotionError.
	FailRenameOf string
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// Seed installs file contents directly, bypassing OpenWrite; used by tests
// to set up a pre-existing target dataset.
func (m *MemFS) Seed(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
}

func (m *MemFS) List(ctx context.Context, root string) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		m.mu.Lock()
		var matched []string
		prefix := strings.TrimSuffix(root, "/") + "/"
		for p := range m.files {
			if p == root || strings.HasPrefix(p, prefix) {
				rel := strings.TrimPrefix(p, prefix)
				if strings.HasPrefix(rel, ".staging-") || strings.Contains(rel, "/.staging-") {
					continue
				}
				matched = append(matched, p)
			}
		}
		m.mu.Unlock()
		sort.Strings(matched)
		for _, p := range matched {
			select {
			case out <- p:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return out, errc
}

func (m *MemFS) OpenRead(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	data, ok := m.files[p]
	m.mu.Unlock()
	if !ok {
		return nil, -1, fmt.Errorf("fsx: %s: no such file", p)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type memWriter struct {
	m    *MemFS
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func (m *MemFS) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	return &memWriter{m: m, path: path.Clean(p)}, nil
}

func (m *MemFS) Rename(ctx context.Context, src, dst string) error {
	if m.FailRenameOf != "" && src == m.FailRenameOf {
		return fmt.Errorf("fsx: simulated rename failure for %s", src)
	}
	m.mu.Lock()
	data, ok := m.files[src]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("fsx: %s: no such file", src)
	}
	if m.CopyDeleteOnly {
		// Copy must succeed before delete, per the spec's rename contract.
		m.mu.Lock()
		m.files[dst] = append([]byte(nil), data...)
		m.mu.Unlock()
		m.mu.Lock()
		delete(m.files, src)
		m.mu.Unlock()
		return nil
	}
	m.mu.Lock()
	m.files[dst] = data
	delete(m.files, src)
	m.mu.Unlock()
	return nil
}

func (m *MemFS) Remove(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	return nil
}

func (m *MemFS) RemoveTree(ctx context.Context, root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(root, "/") + "/"
	for p := range m.files {
		if p == root || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	return nil
}

func (m *MemFS) Stat(ctx context.Context, p string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return -1, fmt.Errorf("fsx: %s: no such file", p)
	}
	return int64(len(data)), nil
}
