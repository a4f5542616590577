package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/loaderrors"
)

// ItemReader reads declarative source files into Item trees, tracking
// its own search-path stack for relative `import` resolution (spec §4.1,
// grounded on original_source/.../language/itemreader.h's
// setSearchPaths/pushExtraSearchPaths/popExtraSearchPaths/readFile
// shape).
type ItemReader struct {
	pool    *item.Pool
	cache   *SourceCache
	search  [][]string // stack of extra search-path sets, outermost first
	base    []string
	mu      sync.Mutex
	read    map[string]*item.Item
	touched map[string]bool
}

// NewItemReader constructs a reader backed by pool for item allocation
// and cache for raw source access, with baseSearchPaths as the
// permanent, non-popped search path list.
func NewItemReader(pool *item.Pool, cache *SourceCache, baseSearchPaths []string) *ItemReader {
	return &ItemReader{
		pool:    pool,
		cache:   cache,
		base:    baseSearchPaths,
		read:    make(map[string]*item.Item),
		touched: make(map[string]bool),
	}
}

// PushExtraSearchPaths adds a temporary set of directories consulted
// before the base search paths, for the duration of the caller's scope
// (e.g. a module-provider-synthesized search path, spec §4.6).
func (r *ItemReader) PushExtraSearchPaths(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search = append(r.search, paths)
}

// PopExtraSearchPaths removes the most recently pushed search-path set.
func (r *ItemReader) PopExtraSearchPaths() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.search) > 0 {
		r.search = r.search[:len(r.search)-1]
	}
}

// searchPaths returns the effective ordered search-path list: most
// recently pushed first, then the base paths.
func (r *ItemReader) searchPaths() []string {
	var out []string
	for i := len(r.search) - 1; i >= 0; i-- {
		out = append(out, r.search[i]...)
	}
	return append(out, r.base...)
}

// ReadFile parses path into an Item tree, memoizing by absolute path so
// re-importing the same file (e.g. a module imported by two products)
// returns the same parsed tree (spec §4.1 "idempotent per path").
func (r *ItemReader) ReadFile(path string) (*item.Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", path, err)
	}

	r.mu.Lock()
	if it, ok := r.read[abs]; ok {
		r.mu.Unlock()
		return it, nil
	}
	r.mu.Unlock()

	src, err := r.cache.Get(abs)
	if err != nil {
		return nil, &loaderrors.ResolveError{
			Location: item.CodeLocation{FilePath: abs},
			Message:  fmt.Sprintf("cannot read file: %v", err),
		}
	}

	p := newParser(abs, src, r.pool)
	root, _, err := p.Parse()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.read[abs] = root
	r.touched[abs] = true
	r.mu.Unlock()

	return root, nil
}

// ResolveImport finds the file(s) an `import` statement names, searching
// the current search-path stack. A bare name with no extension is tried
// both literally and with a ".qbp" suffix, matching the grammar's file
// extension convention.
func (r *ItemReader) ResolveImport(name string, fromDir string) ([]string, error) {
	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = append(candidates, name+".qbp")
	}

	dirs := append([]string{fromDir}, r.searchPaths()...)
	for _, dir := range dirs {
		for _, cand := range candidates {
			full := filepath.Join(dir, cand)
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				return []string{full}, nil
			}
		}
	}
	return nil, &loaderrors.ResolveError{
		Location: item.CodeLocation{FilePath: fromDir},
		Message:  fmt.Sprintf("cannot resolve import %q", name),
	}
}

// FilesRead returns every file path the reader has parsed so far, for
// the Watcher and for recording the persisted "files read" observation
// set (spec §5, §6).
func (r *ItemReader) FilesRead() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.touched))
	for path := range r.touched {
		out = append(out, path)
	}
	return out
}
