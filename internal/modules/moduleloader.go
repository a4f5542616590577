// Package modules implements the Module Loader and Module Provider
// Loader (spec §4.4, §4.6): resolving a product's Depends items to
// module files, instantiating per-product module items, merging profile
// overrides, evaluating module conditions, and falling back to a
// provider-generated search path when a module cannot be found directly.
// Grounded on original_source/.../language/moduleloader.cpp and
// moduleproviderloader.cpp, re-expressed without the C++ Private-impl
// pattern: Go's ModuleLoader holds its caches as plain fields guarded by
// a mutex instead of a pimpl struct.
package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/internal/reader"
	"github.com/qploader/qploader/loaderrors"
)

// PropertyCheckingMode selects how LoadModule handles a profile or
// build-configuration override value assigned to a property no module
// declares (spec §6 `propertyCheckingMode`).
type PropertyCheckingMode int

const (
	// PropertyCheckingStrict fails module loading with a ProfileError.
	PropertyCheckingStrict PropertyCheckingMode = iota
	// PropertyCheckingRelaxed logs the unknown assignment and proceeds
	// as if it had never been made.
	PropertyCheckingRelaxed
)

// Resolver locates the file implementing a module by its qualified name,
// searching the module search paths. Implemented over ItemReader's
// search-path stack.
type Resolver interface {
	ResolveModuleFile(qualifiedName []string) (string, bool)
}

// ModuleLoader resolves Depends items into instantiated module items.
// The prototype cache is keyed by absolute file path (one parse per
// module file, shared by every product); the condition-enabled cache is
// keyed by (prototype, product) since a module's condition can read
// product-specific properties (mirrors the original's two-level
// modulePrototypes / modulePrototypeEnabledInfo caches).
type ModuleLoader struct {
	reader    *reader.ItemReader
	resolver  Resolver
	eval      *eval.Evaluator
	provider  *ProviderLoader
	log       *slog.Logger
	checkMode PropertyCheckingMode

	mu          sync.Mutex
	prototypes  map[string]*item.Item
	conditionOK *lru.Cache[conditionKey, bool]

	// pushedInProduct counts search-path sets pushed by SearchPathsFor
	// fallbacks during the product currently between BeginProduct and
	// EndProduct, so they stay visible to every module lookup within that
	// product (spec §4.6 step 5) rather than only the lookup that
	// triggered them.
	pushedInProduct int
}

type conditionKey struct {
	prototype *item.Item
	product   *item.Item
}

// NewModuleLoader constructs a ModuleLoader. log may be nil, in which
// case slog.Default() is used for the rare warning a Relaxed
// PropertyCheckingMode logs.
func NewModuleLoader(r *reader.ItemReader, resolver Resolver, ev *eval.Evaluator, provider *ProviderLoader, log *slog.Logger, checkMode PropertyCheckingMode) *ModuleLoader {
	if log == nil {
		log = slog.Default()
	}
	cache, err := lru.New[conditionKey, bool](2048)
	if err != nil {
		panic(err)
	}
	return &ModuleLoader{
		reader:      r,
		resolver:    resolver,
		eval:        ev,
		provider:    provider,
		log:         log,
		checkMode:   checkMode,
		prototypes:  make(map[string]*item.Item),
		conditionOK: cache,
	}
}

// BeginProduct opens the search-path scope for one product's Depends
// resolution; EndProduct must be called exactly once to close it, even
// on an early return (spec §4.6 step 5).
func (l *ModuleLoader) BeginProduct() {
	l.mu.Lock()
	l.pushedInProduct = 0
	l.mu.Unlock()
}

// EndProduct pops every search-path set a provider fallback pushed
// during the product opened by the matching BeginProduct.
func (l *ModuleLoader) EndProduct() {
	l.mu.Lock()
	n := l.pushedInProduct
	l.pushedInProduct = 0
	l.mu.Unlock()
	for i := 0; i < n; i++ {
		l.reader.PopExtraSearchPaths()
	}
}

// LoadModule resolves name into an instantiated module item attached to
// product, applying profileDefaults (flat dotted-name -> value, already
// profile-chain-merged) before evaluating the module's condition. params
// is the consumer-supplied `Depends { X.p: ... }` parameter map. The
// returned prototype is the module file's parsed root item, the source
// of its declared Parameter children (spec §4.4 "parameter-declaration
// forwarding").
func (l *ModuleLoader) LoadModule(ctx context.Context, product *item.Item, name []string, profileDefaults map[string]any, params map[string]any) (instance *item.Item, prototype *item.Item, err error) {
	qname := item.QualifiedName(name)

	path, found := l.resolver.ResolveModuleFile(name)
	if !found {
		if l.provider != nil {
			config, cerr := l.providerConfig(ctx, product, qname, profileDefaults)
			if cerr != nil {
				return nil, nil, cerr
			}
			paths, perr := l.provider.SearchPathsFor(ctx, qname, config)
			if perr != nil {
				return nil, nil, perr
			}
			if len(paths) > 0 {
				l.reader.PushExtraSearchPaths(paths)
				l.mu.Lock()
				l.pushedInProduct++
				l.mu.Unlock()
				path, found = l.resolver.ResolveModuleFile(name)
			}
		}
	}
	if !found {
		return nil, nil, &loaderrors.ResolveError{
			Location: product.Location(),
			Message:  fmt.Sprintf("module %q not found", qname),
		}
	}

	prototype, err = l.getPrototype(path)
	if err != nil {
		return nil, nil, err
	}

	instance = l.instantiate(prototype, product)
	unknown := l.applyProfileDefaults(instance, qname, profileDefaults)
	l.applyParameters(instance, params)

	if len(unknown) > 0 {
		profileErr := &loaderrors.ProfileError{
			ModuleName:  qname,
			ProductName: productName(product),
			Unknown:     unknown,
		}
		if l.checkMode == PropertyCheckingStrict {
			return nil, nil, profileErr
		}
		l.log.WarnContext(ctx, "ignoring unknown property assignment", "error", profileErr)
	}

	ok, err := l.evaluateCondition(ctx, prototype, product, instance, profileDefaults)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, prototype, nil
	}

	return instance, prototype, nil
}

// getPrototype parses and caches the module file at path, shared across
// every product that depends on it (spec §4.4 "modulePrototypes cache").
func (l *ModuleLoader) getPrototype(path string) (*item.Item, error) {
	l.mu.Lock()
	if it, ok := l.prototypes[path]; ok {
		l.mu.Unlock()
		return it, nil
	}
	l.mu.Unlock()

	root, err := l.reader.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if root.Type != item.TypeModule && root.Type != item.TypeModuleProvider {
		return nil, &loaderrors.ParseError{
			Location: root.Location(),
			Message:  fmt.Sprintf("file %s does not declare a Module", path),
		}
	}

	l.mu.Lock()
	l.prototypes[path] = root
	l.mu.Unlock()
	return root, nil
}

// instantiate creates a fresh per-product module item inheriting from
// prototype, so one product's property overrides never leak into
// another product sharing the same module file.
func (l *ModuleLoader) instantiate(prototype, product *item.Item) *item.Item {
	return item.Instantiate(prototype, product)
}

// applyProfileDefaults assigns the profile-sourced values under
// moduleName's prefix (e.g. "cpp.optimization" for module "cpp") onto
// instance before the module's own expressions are evaluated, marking
// each as SetByProfile so checkProfileErrorsForModule-equivalent
// diagnostics can distinguish a profile override from a user-authored
// one. Returns the dotted names under that prefix that aren't declared
// on the module, the material for a ProfileError.
func (l *ModuleLoader) applyProfileDefaults(instance *item.Item, moduleName string, defaults map[string]any) []string {
	var unknown []string
	prefix := moduleName + "."
	names := make([]string, 0, len(defaults))
	for k := range defaults {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, dotted := range names {
		val := defaults[dotted]
		name, ok := strings.CutPrefix(dotted, prefix)
		if !ok {
			continue
		}
		if !instance.HasProperty(name) {
			unknown = append(unknown, dotted)
			continue
		}
		v := item.NewVariant(val)
		v.SetByProfile = true
		instance.SetProperty(name, v)
	}
	return unknown
}

func (l *ModuleLoader) applyParameters(instance *item.Item, params map[string]any) {
	for name, val := range params {
		instance.SetProperty(name, item.NewVariant(val))
	}
}

// providerConfig merges the product item's own `moduleProviders.<name>.*`
// dotted property tree (evaluated) with the build-configuration
// override map's entries under the same prefix, the config a Module
// Provider Loader run for qualifiedName receives (spec §4.6 step 3).
// Build-configuration overrides take precedence since they're applied
// after the product's own declarations.
func (l *ModuleLoader) providerConfig(ctx context.Context, product *item.Item, qualifiedName string, profileDefaults map[string]any) (map[string]any, error) {
	prefix := "moduleProviders." + qualifiedName + "."
	config := make(map[string]any)
	for name := range product.Properties {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		val, err := l.eval.Value(ctx, product, name)
		if err != nil {
			return nil, err
		}
		config[strings.TrimPrefix(name, prefix)] = val
	}
	for name, val := range profileDefaults {
		if strings.HasPrefix(name, prefix) {
			config[strings.TrimPrefix(name, prefix)] = val
		}
	}
	return config, nil
}

// evaluateCondition evaluates the module's `condition` property with a
// temporary qbs ambient binding installed and restored afterward
// (mirrors TempQbsModuleProvider: the condition can reference
// `qbs.targetOS` etc. without a real qbs module being fully loaded
// yet). The temporary binding overlays any "qbs.*" profile/build-config
// override onto the built-in qbs properties, so a condition sees the
// same qbs view an ordinary property expression would.
func (l *ModuleLoader) evaluateCondition(ctx context.Context, prototype, product, instance *item.Item, profileDefaults map[string]any) (bool, error) {
	key := conditionKey{prototype, product}
	if v, ok := l.conditionOK.Get(key); ok {
		return v, nil
	}

	if !instance.HasProperty("condition") {
		l.conditionOK.Add(key, true)
		return true, nil
	}

	previous, hadPrevious := l.eval.AmbientValue("qbs")
	l.eval.BindAmbient("qbs", qbsAmbientFor(profileDefaults))
	ok, err := l.eval.BoolValue(ctx, instance, "condition")
	if hadPrevious {
		l.eval.BindAmbient("qbs", previous)
	} else {
		l.eval.UnbindAmbient("qbs")
	}
	if err != nil {
		return false, err
	}
	l.conditionOK.Add(key, ok)
	return ok, nil
}

// DeclaredParameters collects a module prototype's Parameter children's
// own declared properties into a single per-prototype schema (spec §4.4
// "collects each Parameter child's declared properties into a
// per-prototype schema").
func (l *ModuleLoader) DeclaredParameters(prototype *item.Item) map[string]item.PropertyDeclaration {
	out := make(map[string]item.PropertyDeclaration)
	for _, p := range prototype.ChildrenOfType(item.TypeParameter) {
		for name, decl := range p.Declarations {
			out[name] = decl
		}
	}
	return out
}

// CheckDependencyParameterDeclarations forwards a module prototype's
// declared Parameter properties onto the consuming Depends item so
// `Depends { X.p: ... }` assignments can be type-checked against X's own
// declarations, mirroring DependencyParameterDeclarationCheck /
// forwardParameterDeclarations in the original. Returns the forwarded
// declarations so the caller can validate the consumer's parameter
// names against them.
func (l *ModuleLoader) CheckDependencyParameterDeclarations(prototype, depends *item.Item) map[string]item.PropertyDeclaration {
	decls := l.DeclaredParameters(prototype)
	if len(decls) > 0 {
		depends.SetPropertyDeclarations(decls)
	}
	return decls
}

// QbsBuiltins returns the runtime-known properties of the built-in qbs
// module (spec §4.4): host platform/architecture name and the loader's
// own version, derived from the running Go toolchain's GOOS/GOARCH
// rather than hard-coded.
func QbsBuiltins() map[string]any {
	return map[string]any{
		"hostPlatform":     qbsPlatformName(runtime.GOOS),
		"hostArchitecture": qbsArchName(runtime.GOARCH),
		"libexecPath":      "",
		"versionMajor":     1,
		"versionMinor":     0,
		"versionPatch":     0,
		"version":          "1.0.0",
	}
}

func qbsPlatformName(goos string) string {
	switch goos {
	case "darwin":
		return "macos"
	default:
		return goos
	}
}

func qbsArchName(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	default:
		return goarch
	}
}

// qbsAmbientFor overlays any "qbs.*" build-configuration/profile
// override onto the built-in qbs module properties.
func qbsAmbientFor(profileDefaults map[string]any) map[string]any {
	out := QbsBuiltins()
	for k, v := range profileDefaults {
		if name, ok := strings.CutPrefix(k, "qbs."); ok {
			out[name] = v
		}
	}
	return out
}

func productName(p *item.Item) string {
	if p == nil {
		return ""
	}
	if v := p.OwnProperty("name"); v != nil && v.IsVariant() {
		if s, ok := v.Data.(string); ok {
			return s
		}
	}
	return p.ItemID
}

// hashConfig produces a stable cache key component from an arbitrary
// config map, used by the provider loader below.
func hashConfig(config map[string]any) string {
	names := make([]string, 0, len(config))
	for k := range config {
		names = append(names, k)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, k := range names {
		fmt.Fprintf(h, "%s=%v;", k, config[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
