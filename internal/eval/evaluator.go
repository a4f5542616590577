package eval

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/loaderrors"
)

// Importer resolves an `import "path" as Name` statement (spec §4.2
// "Script Importer") against the directory of the file doing the
// importing, and loads the resulting file's exported bindings. The
// Evaluator only depends on this narrow interface - internal/reader
// implements it - so the scope-chain code here never has to import the
// package that already imports eval.Engine.
type Importer interface {
	Resolve(fromDir, path string) (string, error)
	Load(ctx context.Context, absPath string) (map[string]any, error)
}

// cacheKey identifies one memoized (item, property) evaluation.
type cacheKey struct {
	item *item.Item
	name string
}

// PropertyDependency names one (item, property) pair that was read
// while evaluating another property - the raw material for the Project
// Resolver's two-pass module property recomputation (spec §4.3
// "Dependency tracking").
type PropertyDependency struct {
	Item *item.Item
	Name string
}

// Evaluator lazily computes item property values against the scope chain
// spec §4.3 describes: the item itself, its scope (and ancestors), the
// file's import scope, and the file scope (project/product/qbs
// bindings). Results are memoized per (item, property) pair and
// invalidated explicitly, never by wall-clock TTL.
type Evaluator struct {
	engine Engine
	cache  *lru.Cache[cacheKey, any]

	// cachingEnabled mirrors EvalCacheEnabler: evaluation inside probe
	// configure scripts and other one-shot contexts runs with caching
	// off so stale memoized values can't leak across a forced re-run.
	cachingEnabled bool

	// inFlight marks the (item, name) pairs currently being computed.
	// flattenOwnProperties leaves them out of the sibling-property scope
	// described below, so an expression that (directly or transitively)
	// reads itself fails to resolve that name, and Value refuses to
	// re-enter one.
	inFlight map[cacheKey]bool

	// deps records dependencies discovered during the evaluation of the
	// outermost (non-reentrant) call for each cache key.
	deps map[cacheKey][]PropertyDependency

	// stack is the chain of (item,name) pairs currently being computed,
	// used to attribute a freshly discovered dependency edge to its
	// requester and to build a readable cycle error.
	stack []cacheKey

	// ambient holds named, non-flattened bindings available at file
	// scope: "project", "product", "qbs", plus whatever the caller
	// layers on for the duration of one Eval (e.g. "input"/"output" for
	// rule prepare scripts, or a probe's initial-property bindings).
	ambient map[string]any

	// pathBaseDir is returned by PathPropertiesBaseDir; relative path
	// properties are resolved against it (spec §4.3).
	pathBaseDir string

	// importer resolves the import-scope level of the scope chain (spec
	// §4.3 level 3). Nil until the caller wires one in, in which case an
	// import scope name binds to itself (the pre-wiring fallback).
	importer Importer
}

// NewEvaluator constructs an Evaluator backed by engine, with a bounded
// memoization cache of the given size (0 selects a reasonable default).
func NewEvaluator(engine Engine, cacheSize int) *Evaluator {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[cacheKey, any](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded
		// above.
		panic(err)
	}
	return &Evaluator{
		engine:         engine,
		cache:          c,
		cachingEnabled: true,
		inFlight:       make(map[cacheKey]bool),
		deps:           make(map[cacheKey][]PropertyDependency),
		ambient:        make(map[string]any),
	}
}

// SetCachingEnabled toggles memoization. Returns the previous state so
// callers can restore it, matching the RAII-style EvalCacheEnabler the
// original uses around probe re-evaluation.
func (e *Evaluator) SetCachingEnabled(enabled bool) (previous bool) {
	previous = e.cachingEnabled
	e.cachingEnabled = enabled
	return previous
}

// EvalCacheEnabler disables caching for the lifetime of a scope and
// restores the previous setting on Close, mirroring the original's RAII
// guard (spec §9).
type EvalCacheEnabler struct {
	eval     *Evaluator
	previous bool
}

// DisableCaching returns a guard that turns caching off until Close is
// called.
func (e *Evaluator) DisableCaching() *EvalCacheEnabler {
	return &EvalCacheEnabler{eval: e, previous: e.SetCachingEnabled(false)}
}

// Close restores the caching state active before the guard was created.
func (g *EvalCacheEnabler) Close() {
	g.eval.SetCachingEnabled(g.previous)
}

// InvalidateCache drops memoized values for it and every item nested
// beneath it, used when a build-configuration override or profile
// change makes previously computed values stale.
func (e *Evaluator) InvalidateCache(it *item.Item) {
	for _, key := range e.cache.Keys() {
		if key.item == it {
			e.cache.Remove(key)
		}
	}
	for _, child := range it.Children {
		e.InvalidateCache(child)
	}
}

// ClearCache drops every memoized value.
func (e *Evaluator) ClearCache() {
	e.cache.Purge()
	e.deps = make(map[cacheKey][]PropertyDependency)
}

// SetPathPropertiesBaseDir sets the directory relative path-typed
// properties resolve against.
func (e *Evaluator) SetPathPropertiesBaseDir(dir string) { e.pathBaseDir = dir }

// PathPropertiesBaseDir returns the directory relative path-typed
// properties resolve against.
func (e *Evaluator) PathPropertiesBaseDir() string { return e.pathBaseDir }

// BindAmbient registers a named, non-flattened file-scope binding (e.g.
// "project", "product", "qbs"). Bindings persist until explicitly
// replaced; there is deliberately no global state here beyond what the
// caller (the Project Tree Builder) installs per Setup call.
func (e *Evaluator) BindAmbient(name string, value any) {
	e.ambient[name] = value
}

// AmbientValue returns the currently bound value for an ambient name,
// and whether one is bound at all - used by callers that need to
// temporarily rebind an ambient (e.g. a Module Loader condition making
// "qbs" visible) and restore whatever was there before.
func (e *Evaluator) AmbientValue(name string) (value any, ok bool) {
	value, ok = e.ambient[name]
	return value, ok
}

// UnbindAmbient removes a named ambient binding entirely, as opposed to
// BindAmbient(name, nil) which would leave it bound to nil.
func (e *Evaluator) UnbindAmbient(name string) {
	delete(e.ambient, name)
}

// SetImporter wires the import-scope resolver used by buildScopeChain
// and RunProbeConfigure. Left unset, an import scope name binds to
// itself rather than the file's exported bindings.
func (e *Evaluator) SetImporter(imp Importer) {
	e.importer = imp
}

// PropertyDependencies returns the (item,name) pairs that were read
// while computing it's value for name, for the Project Resolver's
// two-pass recomputation (spec §4.3, §4 "two-pass module property
// evaluation").
func (e *Evaluator) PropertyDependencies(it *item.Item, name string) []PropertyDependency {
	return e.deps[cacheKey{it, name}]
}

// Value evaluates the current value of property name on it, walking the
// prototype chain for the nearest assignment and memoizing the result.
func (e *Evaluator) Value(ctx context.Context, it *item.Item, name string) (any, error) {
	key := cacheKey{it, name}

	if e.cachingEnabled {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	}

	if e.inFlight[key] {
		return nil, &loaderrors.EvaluationError{
			Location: it.Location(),
			Message:  fmt.Sprintf("circular dependency evaluating property %q", name),
		}
	}

	v := it.Property(name)
	if v == nil {
		decl, ok := it.PropertyDeclarationFor(name)
		if !ok {
			return nil, &loaderrors.EvaluationError{
				Location: it.Location(),
				Message:  fmt.Sprintf("property %q is not declared on %s", name, it.TypeName()),
			}
		}
		if decl.DefaultExpr == "" {
			return nil, nil
		}
		v = item.NewJSSource(decl.DefaultExpr, it.Location(), it)
	}

	e.inFlight[key] = true
	e.stack = append(e.stack, key)
	result, err := e.resolveValue(ctx, it, name, v)
	e.stack = e.stack[:len(e.stack)-1]
	delete(e.inFlight, key)
	if err != nil {
		return nil, err
	}

	converted, err := e.ConvertToPropertyType(it, name, result)
	if err != nil {
		return nil, err
	}

	if e.cachingEnabled {
		e.cache.Add(key, converted)
	}
	return converted, nil
}

// resolveValue dispatches on the Value's Kind.
func (e *Evaluator) resolveValue(ctx context.Context, it *item.Item, name string, v *item.Value) (any, error) {
	switch {
	case v.IsVariant():
		return v.Data, nil
	case v.IsItemValue():
		return v.Target, nil
	case v.IsJSSource():
		return e.evalScript(ctx, it, name, v)
	default:
		return nil, nil
	}
}

// evalScript builds the scope chain for one JsSource value and asks the
// engine to evaluate it.
func (e *Evaluator) evalScript(ctx context.Context, it *item.Item, name string, v *item.Value) (any, error) {
	globals, err := e.buildScopeChain(ctx, it, v)
	if err != nil {
		return nil, err
	}
	result, err := e.engine.Eval(ctx, v.Code, globals)
	if err != nil {
		return nil, &loaderrors.EvaluationError{
			Location: v.ValueLocation(),
			Message:  err.Error(),
		}
	}
	return result, nil
}

// buildScopeChain flattens the four scope levels of spec §4.3 into a
// single globals map, lowest precedence first so later assignments
// shadow earlier ones: file scope, import scope, the item's scope chain
// (outermost ancestor first), then the item's own sibling properties,
// and finally any reserved identifiers (base/outer/original) the value
// itself carries.
//
// Own-scope and ancestor-scope properties are flattened unqualified
// (QML-style block scoping: an inner item can reference an enclosing
// item's property by bare name). File/import scope bindings are named
// objects (`product`, `project`, an imported module's exported names)
// rather than flattened, matching how those identifiers are actually
// used in practice (`product.name`, not a bare `name`).
func (e *Evaluator) buildScopeChain(ctx context.Context, it *item.Item, v *item.Value) (map[string]any, error) {
	globals := make(map[string]any, 16)

	for name, val := range e.ambient {
		globals[name] = val
	}

	if it.File != nil {
		for _, imp := range it.File.Imports {
			val, err := e.resolveImport(ctx, it.File.FilePath, imp)
			if err != nil {
				return nil, err
			}
			globals[imp.ScopeName] = val
		}
	}

	var ancestors []*item.Item
	for s := it.Scope; s != nil; s = s.Scope {
		ancestors = append(ancestors, s)
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		if err := e.flattenOwnProperties(ctx, ancestors[i], globals); err != nil {
			return nil, err
		}
	}

	if err := e.flattenOwnProperties(ctx, it, globals); err != nil {
		return nil, err
	}

	if v.Base != nil {
		baseVal, err := e.resolveValue(ctx, it, "base", v.Base)
		if err != nil {
			return nil, err
		}
		globals["base"] = baseVal
		globals["original"] = baseVal
	}

	return globals, nil
}

// resolveImport binds one `import "path" as Name` statement to the
// object Name should evaluate to: the exported bindings of the file the
// import names, resolved relative to fromFile's directory. Without an
// importer wired in, it falls back to binding the scope name to itself
// so existing callers that never set one keep compiling and running.
func (e *Evaluator) resolveImport(ctx context.Context, fromFile string, imp item.Import) (any, error) {
	if e.importer == nil || len(imp.Files) == 0 {
		return imp.ScopeName, nil
	}
	abs, err := e.importer.Resolve(filepath.Dir(fromFile), imp.Files[0])
	if err != nil {
		return nil, &loaderrors.EvaluationError{Location: imp.Location, Message: err.Error()}
	}
	exports, err := e.importer.Load(ctx, abs)
	if err != nil {
		return nil, err
	}
	return exports, nil
}

// flattenOwnProperties adds every declared property of it (own plus
// inherited-but-undeclared-elsewhere) to globals, recursively evaluating
// each through the Evaluator so memoization and dependency tracking stay
// consistent with an ordinary Value() call.
func (e *Evaluator) flattenOwnProperties(ctx context.Context, it *item.Item, globals map[string]any) error {
	seen := make(map[string]bool)
	for node := it; node != nil; node = node.Prototype {
		for name := range node.Declarations {
			if seen[name] {
				continue
			}
			seen[name] = true
			if e.inFlight[cacheKey{it, name}] {
				// Still being computed further up the stack (at least the
				// property whose scope is being built): no value yet.
				continue
			}
			val, err := e.Value(ctx, it, name)
			if err != nil {
				return err
			}
			globals[name] = val
			if len(e.stack) > 0 {
				caller := e.stack[len(e.stack)-1]
				e.deps[caller] = append(e.deps[caller], PropertyDependency{Item: it, Name: name})
			}
		}
	}
	return nil
}

// ConvertToPropertyType coerces an evaluated value to the declared type
// of the property (spec §4.3 "Type coercion"), mirroring the original's
// convertToPropertyType: string<->path are the same representation,
// lists are flattened one level, bools/ints parse from strings when a
// script produced a string for a numeric property.
func (e *Evaluator) ConvertToPropertyType(it *item.Item, name string, v any) (any, error) {
	decl, ok := it.PropertyDeclarationFor(name)
	if !ok || v == nil {
		return v, nil
	}
	switch decl.Type {
	case item.PropertyTypeBool:
		return e.toBool(it, name, v)
	case item.PropertyTypeInt:
		return e.toInt(it, name, v)
	case item.PropertyTypeString, item.PropertyTypePath:
		return e.toString(it, name, v)
	case item.PropertyTypeStringList, item.PropertyTypePathList:
		return e.toStringList(it, name, v)
	default:
		return v, nil
	}
}

func (e *Evaluator) toBool(it *item.Item, name string, v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, e.typeError(it, name, "bool", v)
		}
		return parsed, nil
	default:
		return nil, e.typeError(it, name, "bool", v)
	}
}

func (e *Evaluator) toInt(it *item.Item, name string, v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return nil, e.typeError(it, name, "int", v)
		}
		return parsed, nil
	default:
		return nil, e.typeError(it, name, "int", v)
	}
}

func (e *Evaluator) toString(it *item.Item, name string, v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		return nil, e.typeError(it, name, "string", v)
	}
}

func (e *Evaluator) toStringList(it *item.Item, name string, v any) (any, error) {
	switch l := v.(type) {
	case []any:
		out := make([]string, 0, len(l))
		for _, elem := range l {
			s, ok := elem.(string)
			if !ok {
				return nil, e.typeError(it, name, "stringList", v)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return l, nil
	case string:
		return []string{l}, nil
	default:
		return nil, e.typeError(it, name, "stringList", v)
	}
}

func (e *Evaluator) typeError(it *item.Item, name, wantType string, got any) error {
	return &loaderrors.EvaluationError{
		Location: it.Location(),
		Message:  fmt.Sprintf("value of property %q cannot be converted to %s: %#v", name, wantType, got),
	}
}

// BoolValue evaluates name as a bool, per spec §4.3 typed accessors.
func (e *Evaluator) BoolValue(ctx context.Context, it *item.Item, name string) (bool, error) {
	v, err := e.Value(ctx, it, name)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// IntValue evaluates name as an int.
func (e *Evaluator) IntValue(ctx context.Context, it *item.Item, name string) (int, error) {
	v, err := e.Value(ctx, it, name)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

// StringValue evaluates name as a string.
func (e *Evaluator) StringValue(ctx context.Context, it *item.Item, name string) (string, error) {
	v, err := e.Value(ctx, it, name)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// StringListValue evaluates name as a string list, treating an unset
// value as an empty (not nil) list.
func (e *Evaluator) StringListValue(ctx context.Context, it *item.Item, name string) ([]string, error) {
	v, err := e.Value(ctx, it, name)
	if err != nil {
		return nil, err
	}
	if l := asStringList(v); l != nil {
		return l, nil
	}
	return []string{}, nil
}

// OptionalStringListValue evaluates name as a string list, distinguishing
// an explicitly-unset property (nil, ok=false) from one set to an empty
// list (non-nil, ok=true) - needed by properties whose absence changes
// behavior (spec §4.3).
func (e *Evaluator) OptionalStringListValue(ctx context.Context, it *item.Item, name string) (list []string, ok bool, err error) {
	if it.Property(name) == nil {
		return nil, false, nil
	}
	v, err := e.Value(ctx, it, name)
	if err != nil {
		return nil, false, err
	}
	return asStringList(v), true, nil
}

// asStringList coerces a risor-evaluated value to a string slice
// leniently, independent of whether the property carries a formal
// `property stringList` declaration - most list-valued properties in
// practice (Group.files, Rule.inputs, ...) are never declared, only
// assigned.
func asStringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, elem := range l {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{l}
	default:
		return nil
	}
}

// FileTagsValue evaluates name as a sorted, de-duplicated set of file
// tags (spec §3 "FileTagger").
func (e *Evaluator) FileTagsValue(ctx context.Context, it *item.Item, name string) ([]string, error) {
	tags, err := e.StringListValue(ctx, it, name)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// VariantValue evaluates name as an arbitrary value with no type
// coercion, for PropertyTypeVariant/PropertyTypeVariantList properties.
func (e *Evaluator) VariantValue(ctx context.Context, it *item.Item, name string) (any, error) {
	return e.Value(ctx, it, name)
}

// RunProbeConfigure executes a probe's configure source (spec §4.6
// steps 5-6) against a scope seeded with initialProps, then reads back
// whichever of those bindings the script actually assigned, converted
// to their declared property type.
//
// The Engine interface only exposes a single Eval(source, globals) call
// with no way to inspect a script's locals afterward, so configure runs
// wrapped in an IIFE that returns an object naming every initial
// binding - the same trick reader.ScriptImporter uses to read back a
// helper file's exported names.
func (e *Evaluator) RunProbeConfigure(ctx context.Context, probe *item.Item, source string, initialProps map[string]any) (map[string]any, error) {
	names := make([]string, 0, len(initialProps))
	for name := range initialProps {
		names = append(names, name)
	}
	sort.Strings(names)

	if strings.TrimSpace(source) == "" || len(names) == 0 {
		return map[string]any{}, nil
	}

	globals := make(map[string]any, len(e.ambient)+len(names)+4)
	for name, val := range e.ambient {
		globals[name] = val
	}
	if probe.File != nil {
		for _, imp := range probe.File.Imports {
			val, err := e.resolveImport(ctx, probe.File.FilePath, imp)
			if err != nil {
				return nil, err
			}
			globals[imp.ScopeName] = val
		}
	}
	for _, name := range names {
		globals[name] = initialProps[name]
	}

	wrapped := wrapAsBindingObject(source, names)
	result, err := e.engine.Eval(ctx, wrapped, globals)
	if err != nil {
		return nil, &loaderrors.EvaluationError{
			Location: probe.Location(),
			Message:  err.Error(),
		}
	}

	returned, _ := result.(map[string]any)
	out := make(map[string]any, len(names))
	for _, name := range names {
		var raw any
		if returned != nil {
			raw = returned[name]
		}
		converted, err := e.ConvertToPropertyType(probe, name, raw)
		if err != nil {
			return nil, err
		}
		out[name] = converted
	}
	return out, nil
}

// wrapAsBindingObject runs source (a statement sequence, not an
// expression) and returns an object whose fields are the names it may
// have assigned, so the caller can read back which of its own
// variables the script actually touched.
func wrapAsBindingObject(source string, names []string) string {
	var fields strings.Builder
	for i, n := range names {
		if i > 0 {
			fields.WriteString(", ")
		}
		fmt.Fprintf(&fields, "%s: %s", n, n)
	}
	return fmt.Sprintf("func() {\n%s\nreturn {%s}\n}()", source, fields.String())
}
