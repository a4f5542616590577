package reader

import "context"

// ImportBinder adapts an ItemReader's search-path resolution and a
// ScriptImporter's file loading into the narrow eval.Importer
// capability the Evaluator's scope chain needs to turn an `import
// "path" as Name` statement into the object Name evaluates to (spec
// §4.2, §4.3 "import scope"). It lives in this package rather than
// internal/eval because ScriptImporter already depends on eval.Engine;
// eval only ever sees it through the Importer interface, so neither
// package needs to import the other directly.
type ImportBinder struct {
	reader *ItemReader
	script *ScriptImporter
	cache  *SourceCache
}

// NewImportBinder constructs an ImportBinder.
func NewImportBinder(r *ItemReader, s *ScriptImporter, cache *SourceCache) *ImportBinder {
	return &ImportBinder{reader: r, script: s, cache: cache}
}

// Resolve finds the absolute path an import path names, searching
// fromDir and the reader's current search-path stack.
func (b *ImportBinder) Resolve(fromDir, path string) (string, error) {
	paths, err := b.reader.ResolveImport(path, fromDir)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// Load evaluates the helper file at absPath and returns its exported
// top-level bindings.
func (b *ImportBinder) Load(ctx context.Context, absPath string) (map[string]any, error) {
	return b.script.Load(ctx, absPath, b.cache)
}
