package builder

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/qploader/qploader/internal/modules"
)

// PathResolver locates module and module-provider files within a fixed
// set of module search paths, using the convention
// "<searchPath>/modules/<part>/.../<last part>.qbp" (module; "Qt.core"
// maps to modules/Qt/core.qbp) and
// "<searchPath>/module-providers/<part>/.../<last part>.qbp" (provider,
// with the dots of its name turned into directories), mirroring the
// original's directory-per-module-name layout without requiring a
// dedicated index file.
type PathResolver struct {
	SearchPaths []string
}

// NewPathResolver constructs a PathResolver over the given module search
// paths.
func NewPathResolver(searchPaths []string) *PathResolver {
	return &PathResolver{SearchPaths: searchPaths}
}

// ResolveModuleFile implements modules.Resolver.
func (p *PathResolver) ResolveModuleFile(qualifiedName []string) (string, bool) {
	rel := filepath.Join(append([]string{"modules"}, qualifiedName...)...) + ".qbp"
	for _, dir := range p.SearchPaths {
		full := filepath.Join(dir, rel)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full, true
		}
	}
	return "", false
}

// FindProviderFile implements modules.ProviderFileFinder.
func (p *PathResolver) FindProviderFile(providerName string, shape modules.LookupShape) (string, bool) {
	rel := filepath.Join("module-providers", strings.ReplaceAll(providerName, ".", string(filepath.Separator))) + ".qbp"
	for _, dir := range p.SearchPaths {
		full := filepath.Join(dir, rel)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full, true
		}
	}
	return "", false
}
