// Package eval implements the Evaluator (spec §4.3): lazy computation of
// property values from embedded script expressions against an explicit
// scope chain, with memoization and dependency tracking. The script
// engine itself is the narrow collaborator described in spec §6 and §9
// ("define a narrow interface capturing only the capabilities... a
// conforming implementation may embed a scripting runtime of the
// implementer's choice"); here it is backed by Risor
// (github.com/risor-io/risor), the same engine the teacher project uses
// to run its extraction/resolution scripts.
package eval

import (
	"context"
	"fmt"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// Engine is the narrow script-engine capability set the Evaluator
// depends on (spec §6). It deliberately does not expose Risor types so a
// different embeddable engine could be substituted without touching the
// rest of this package.
type Engine interface {
	// Eval evaluates a single expression against the given globals,
	// returning a plain Go value (string, bool, int64, float64,
	// []any, map[string]any, or nil).
	Eval(ctx context.Context, source string, globals map[string]any) (any, error)
}

// risorEngine is the default Engine implementation.
type risorEngine struct {
	imp importer.Importer
}

// NewRisorEngine constructs an Engine backed by Risor. imp may be nil if
// the project has no `import` directories to resolve (built-in
// extensions are still passed as ordinary globals).
func NewRisorEngine(imp importer.Importer) Engine {
	return &risorEngine{imp: imp}
}

func (e *risorEngine) Eval(ctx context.Context, source string, globals map[string]any) (any, error) {
	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if e.imp != nil {
		opts = append(opts, risor.WithImporter(e.imp))
	}
	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return fromObject(result), nil
}

// fromObject converts a Risor object.Object into a plain Go value. Every
// Risor object kind implements Interface(), which is the generic
// "give me the underlying Go value" escape hatch also used for
// object.Proxy in the teacher's host functions.
func fromObject(o object.Object) any {
	if o == nil {
		return nil
	}
	return o.Interface()
}
