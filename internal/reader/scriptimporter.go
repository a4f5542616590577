package reader

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/qploader/qploader/internal/eval"
)

// topLevelDeclPattern matches a top-level `function name(...)`,
// `var name = ...`, `let name = ...`, or `const name = ...` declaration.
// Grounded on original_source/.../language/scriptimporter.cpp's
// IdentifierExtractor, which walks only top-level SourceElements rather
// than parsing the whole file as an expression language.
var topLevelDeclPattern = regexp.MustCompile(`(?m)^(?:function\s+([A-Za-z_]\w*)|(?:var|let|const)\s+([A-Za-z_]\w*))`)

// ScriptImporter loads a `.js`-like helper file named by an `import ...
// as Name` statement and exposes its top-level declarations as a single
// named object, matching spec §4.1's "import scope" and the original's
// wrap-in-IIFE trick: rather than re-implementing a JS module system,
// the whole file is evaluated as an immediately-invoked function that
// returns an object naming each of its own top-level declarations.
type ScriptImporter struct {
	engine eval.Engine
	mu     sync.Mutex
	cache  map[string]map[string]any
}

// NewScriptImporter constructs a ScriptImporter backed by engine.
func NewScriptImporter(engine eval.Engine) *ScriptImporter {
	return &ScriptImporter{engine: engine, cache: make(map[string]map[string]any)}
}

// Load reads and evaluates the helper script at path, returning its
// exported top-level bindings. Results are cached per path: a helper
// script imported by two different files is only evaluated once.
func (s *ScriptImporter) Load(ctx context.Context, path string, cache *SourceCache) (map[string]any, error) {
	s.mu.Lock()
	if exports, ok := s.cache[path]; ok {
		s.mu.Unlock()
		return exports, nil
	}
	s.mu.Unlock()

	src, err := cache.Get(path)
	if err != nil {
		return nil, fmt.Errorf("reading import %s: %w", path, err)
	}

	wrapped := wrapAsExportingIIFE(src)
	result, err := s.engine.Eval(ctx, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("evaluating import %s: %w", path, err)
	}

	exports, _ := result.(map[string]any)
	if exports == nil {
		exports = make(map[string]any)
	}

	s.mu.Lock()
	s.cache[path] = exports
	s.mu.Unlock()
	return exports, nil
}

// wrapAsExportingIIFE finds every top-level function/var/let/const
// declaration in src and wraps the whole file in a function that
// returns an object naming each of them, e.g. for a file declaring
// `function upper(s) { ... }` and `var suffix = "x"`, the wrapped source
// evaluates to `{upper: upper, suffix: suffix}`.
func wrapAsExportingIIFE(src string) string {
	matches := topLevelDeclPattern.FindAllStringSubmatch(src, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	var fields strings.Builder
	for i, n := range names {
		if i > 0 {
			fields.WriteString(", ")
		}
		fields.WriteString(n)
		fields.WriteString(": ")
		fields.WriteString(n)
	}

	return fmt.Sprintf("func() { %s\n return {%s} }()", src, fields.String())
}
