package reader

import (
	"fmt"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// mappedSource is one memory-mapped (or, on mmap failure, plain
// os.ReadFile fallback) source file. Grounded on the MappedFile /
// fileCacheImpl shape in gnana997-uispec's pkg/util/filecache.go: lazy
// load, double-checked locking, mmap-then-fallback.
type mappedSource struct {
	path string
	data []byte
	mm   mmap.MMap
	file *os.File
}

func (m *mappedSource) close() error {
	var err error
	if m.mm != nil {
		err = m.mm.Unmap()
	}
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SourceCache serves raw file contents to the item reader, backing
// FileContext.RawSource. It is what the Item Reader asks for bytes
// through instead of calling os.ReadFile directly, per SPEC_FULL.md
// §4.10.
type SourceCache struct {
	mu    sync.RWMutex
	files map[string]*mappedSource
}

// NewSourceCache constructs an empty source cache.
func NewSourceCache() *SourceCache {
	return &SourceCache{files: make(map[string]*mappedSource)}
}

// Get returns the raw text of path, loading and caching it on first
// access.
func (c *SourceCache) Get(path string) (string, error) {
	c.mu.RLock()
	if m, ok := c.files[path]; ok {
		c.mu.RUnlock()
		return string(m.data), nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.files[path]; ok {
		return string(m.data), nil
	}

	m, err := loadSource(path)
	if err != nil {
		return "", err
	}
	c.files[path] = m
	return string(m.data), nil
}

func loadSource(path string) (*mappedSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		f.Close()
		return &mappedSource{path: path, data: nil}, nil
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		// Fall back to a plain read when mmap isn't available (e.g. a
		// zero-length or non-regular file, or an unsupported OS/fs).
		f.Close()
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, fmt.Errorf("reading %s: %w", path, rerr)
		}
		return &mappedSource{path: path, data: data}, nil
	}

	return &mappedSource{path: path, data: []byte(mm), mm: mm, file: f}, nil
}

// Invalidate drops a cached file so the next Get re-reads it from disk.
func (c *SourceCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.files[path]; ok {
		m.close()
		delete(c.files, path)
	}
}

// Close unmaps every cached file.
func (c *SourceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for path, m := range c.files {
		if err := m.close(); err != nil && first == nil {
			first = err
		}
		delete(c.files, path)
	}
	return first
}
