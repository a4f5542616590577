// Package resolve implements the Project Resolver (spec §3, §4): walking
// a fully module-loaded item tree into the concrete, serializable
// ResolvedProject model. Grounded on
// original_source/.../loader/projectresolver.cpp's dispatch-table-driven
// tree walk, re-expressed as a Go type switch over item.Type rather than
// a map of member-function pointers.
package resolve

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/loaderrors"
)

// SourceArtifact is one file belonging to a product, tagged by the
// FileTaggers that matched its name (spec §3 "Resolved Product").
type SourceArtifact struct {
	FilePath string
	Tags     []string
}

// Group is a resolved Group: an explicit file list plus the per-module
// property overrides it carries (spec §3/§4.8 `group.properties`),
// keyed by module name then property name.
type Group struct {
	Name       string
	Enabled    bool
	Files      []SourceArtifact
	Properties map[string]map[string]any
	Location   item.CodeLocation
}

// Binding is one flattened property assignment on a Rule Artifact
// child, including nested dotted-property assignments
// (`cpp.defines: [...]` inside an Artifact), captured raw rather than
// evaluated since a rule's prepare/outputArtifacts scripts supply the
// artifact context at build time (spec §8 "Rule").
type Binding struct {
	NamePath []string
	Code     string
	Location item.CodeLocation
}

// RuleArtifact is one Artifact child of a Rule, its static filePath and
// fileTags captured raw alongside its flattened property Bindings.
type RuleArtifact struct {
	FilePathCode string
	FileTagsCode string
	Bindings     []Binding
	Location     item.CodeLocation
}

// Rule is a resolved Rule declaration (command generation is out of
// scope per spec §1; only the declarative shape needed to validate and
// wire a rule into its product is captured).
type Rule struct {
	Inputs          []string
	AuxiliaryInputs []string
	OutputFileTags  []string
	Multiplex       bool
	RequiresInputs  bool
	AlwaysRun       bool
	PrepareCode     string
	Artifacts       []RuleArtifact
	Location        item.CodeLocation
}

// FileTagger assigns tags to files matching a glob pattern, applied in
// resolver registration order (SPEC_FULL.md Open Question decision 3:
// ties broken by insertion order, never sorted).
type FileTagger struct {
	Patterns []string
	Tags     []string
}

// JobLimit declares a named concurrency pool size (spec §3).
type JobLimit struct {
	Name  string
	Limit int
}

// Scanner is a resolved dependency scanner declaration.
type Scanner struct {
	Patterns []string
}

// Export is a product's exported module surface, consumed by other
// products depending on it.
type Export struct {
	Properties map[string]any
}

// Product is a resolved build product.
type Product struct {
	Name            string
	TargetName      string
	Type            []string
	Groups          []*Group
	Modules         map[string]map[string]any
	Rules           []*Rule
	FileTaggers     []*FileTagger
	JobLimits       []*JobLimit
	Scanners        []*Scanner
	Export          *Export
	Location        item.CodeLocation
	DependencyNames []string
	// ProductDependencies lists the names of other products this one
	// depends on directly (item.Module.ProductInfo entries), spec §3/§4.7
	// product-to-product dependencies.
	ProductDependencies []string
}

// Project is the resolved project tree (spec §3 "Resolved Project").
type Project struct {
	Name        string
	Products    []*Product
	SubProjects []*Project
}

// Resolver walks a built item tree into a Project.
type Resolver struct {
	ev *eval.Evaluator
}

// New constructs a Resolver.
func New(ev *eval.Evaluator) *Resolver {
	return &Resolver{ev: ev}
}

// Resolve walks root (a Project item already processed by
// internal/builder) into a Project.
func (r *Resolver) Resolve(ctx context.Context, root *item.Item) (*Project, error) {
	proj := &Project{}
	if root.HasProperty("name") {
		name, err := r.ev.StringValue(ctx, root, "name")
		if err != nil {
			return nil, err
		}
		proj.Name = name
	}

	seen := make(map[string]item.CodeLocation)
	if err := r.resolveChildren(ctx, root, proj, seen); err != nil {
		return nil, err
	}

	r.mergeProductExports(proj)
	return proj, nil
}

// allProducts flattens a Project and every SubProject's Products into
// one slice, depth-first, for the whole-tree product index
// mergeProductExports needs (a product-to-product dependency can cross
// a SubProject boundary).
func allProducts(proj *Project) []*Product {
	out := append([]*Product(nil), proj.Products...)
	for _, sub := range proj.SubProjects {
		out = append(out, allProducts(sub)...)
	}
	return out
}

// mergeProductExports runs after the whole tree has been resolved,
// merging each product-to-product dependency's target Export.Properties
// into the depending product's Modules entry for that dependency name
// (spec §3/§4.7): a product consuming another product via Depends sees
// the target's exported surface the same way it would see a module's
// evaluated properties.
func (r *Resolver) mergeProductExports(proj *Project) {
	byName := make(map[string]*Product)
	for _, p := range allProducts(proj) {
		byName[p.Name] = p
	}
	for _, p := range allProducts(proj) {
		for _, depName := range p.ProductDependencies {
			target, ok := byName[depName]
			if !ok || target.Export == nil {
				continue
			}
			merged := make(map[string]any, len(target.Export.Properties))
			for k, v := range target.Export.Properties {
				merged[k] = v
			}
			p.Modules[depName] = merged
		}
	}
}

func (r *Resolver) resolveChildren(ctx context.Context, parent *item.Item, proj *Project, seen map[string]item.CodeLocation) error {
	for _, child := range parent.Children {
		switch child.Type {
		case item.TypeProduct:
			p, err := r.resolveProduct(ctx, child)
			if err != nil {
				return err
			}
			if existing, ok := seen[p.Name]; ok {
				return &loaderrors.ResolveError{
					Location:  child.Location(),
					Message:   "duplicate product name " + p.Name,
					Secondary: &existing,
				}
			}
			seen[p.Name] = child.Location()
			proj.Products = append(proj.Products, p)
		case item.TypeSubProject:
			sub := &Project{}
			if err := r.resolveChildren(ctx, child, sub, seen); err != nil {
				return err
			}
			proj.SubProjects = append(proj.SubProjects, sub)
		default:
			if err := r.resolveChildren(ctx, child, proj, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveProduct dispatches over a Product item's children by type,
// mirroring the original's per-type handler table.
func (r *Resolver) resolveProduct(ctx context.Context, it *item.Item) (*Product, error) {
	name, err := r.ev.StringValue(ctx, it, "name")
	if err != nil {
		return nil, err
	}
	targetName := name
	if it.HasProperty("targetName") {
		targetName, err = r.ev.StringValue(ctx, it, "targetName")
		if err != nil {
			return nil, err
		}
	}
	typeList, err := r.ev.StringListValue(ctx, it, "type")
	if err != nil {
		return nil, err
	}

	p := &Product{
		Name:       name,
		TargetName: targetName,
		Type:       typeList,
		Location:   it.Location(),
		Modules:    make(map[string]map[string]any),
	}

	for _, mod := range it.Modules {
		qname := item.QualifiedName(mod.Name)
		p.DependencyNames = append(p.DependencyNames, qname)
		if mod.ProductInfo != nil {
			p.ProductDependencies = append(p.ProductDependencies, mod.ProductInfo.ProductName)
			continue
		}
		// Pass 1 of module property evaluation (spec §4 "two-pass"):
		// evaluate every module's own declared properties product-wide,
		// before any Group override is applied. A Group's override (pass
		// 2) is evaluated per-Group below, against these pass-1 values,
		// since only a Group can see a narrower file scope than the whole
		// product.
		props, err := r.evaluateModuleProperties(ctx, mod.Item)
		if err != nil {
			return nil, err
		}
		p.Modules[qname] = props
	}
	sort.Strings(p.DependencyNames)
	sort.Strings(p.ProductDependencies)

	for _, child := range it.Children {
		switch child.Type {
		case item.TypeGroup:
			g, err := r.resolveGroup(ctx, child, it)
			if err != nil {
				return nil, err
			}
			p.Groups = append(p.Groups, g)
		case item.TypeRule:
			rule, err := r.resolveRule(ctx, child)
			if err != nil {
				return nil, err
			}
			p.Rules = append(p.Rules, rule)
		case item.TypeFileTagger:
			ft, err := r.resolveFileTagger(ctx, child)
			if err != nil {
				return nil, err
			}
			p.FileTaggers = append(p.FileTaggers, ft)
		case item.TypeJobLimit:
			jl, err := r.resolveJobLimit(ctx, child)
			if err != nil {
				return nil, err
			}
			p.JobLimits = append(p.JobLimits, jl)
		case item.TypeScanner:
			sc, err := r.resolveScanner(ctx, child)
			if err != nil {
				return nil, err
			}
			p.Scanners = append(p.Scanners, sc)
		case item.TypeExport:
			ex, err := r.resolveExport(ctx, child)
			if err != nil {
				return nil, err
			}
			p.Export = ex
		}
	}

	for _, g := range p.Groups {
		r.applyFileTaggers(g, p.FileTaggers)
	}

	return p, nil
}

func (r *Resolver) evaluateModuleProperties(ctx context.Context, mod *item.Item) (map[string]any, error) {
	out := make(map[string]any)
	for name := range mod.Declarations {
		v, err := r.ev.Value(ctx, mod, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// resolveGroup evaluates a Group's file list and any `moduleName.prop`
// overrides it carries, binding `outer` to the enclosing product's
// already-evaluated value of the same dotted property before evaluating
// each override expression (SPEC_FULL.md Open Question decision 2). Each
// override is recorded on the Group (pass 2 of spec §4 "two-pass module
// property evaluation"), and any sibling property of the same module
// whose pass-1 evaluation read the overridden one is recomputed against
// the override and recorded alongside it, so a Group's resolved view of
// a module reflects the override transitively, not just literally.
func (r *Resolver) resolveGroup(ctx context.Context, it, product *item.Item) (*Group, error) {
	g := &Group{Location: it.Location(), Enabled: true, Properties: make(map[string]map[string]any)}
	if it.HasProperty("name") {
		name, err := r.ev.StringValue(ctx, it, "name")
		if err != nil {
			return nil, err
		}
		g.Name = name
	}
	if it.HasProperty("condition") {
		ok, err := r.ev.BoolValue(ctx, it, "condition")
		if err != nil {
			return nil, err
		}
		g.Enabled = ok
	}

	patterns, err := r.ev.StringListValue(ctx, it, "files")
	if err != nil {
		return nil, err
	}
	var excludePatterns []string
	if it.HasProperty("excludeFiles") {
		excludePatterns, err = r.ev.StringListValue(ctx, it, "excludeFiles")
		if err != nil {
			return nil, err
		}
	}

	baseDir := r.ev.PathPropertiesBaseDir()
	files, err := expandGlobs(baseDir, patterns, excludePatterns)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		g.Files = append(g.Files, SourceArtifact{FilePath: f})
	}

	overridden := make(map[string]map[string]bool)
	for name, v := range it.Properties {
		if !dottedModuleProperty(name) {
			continue
		}
		moduleName, propName := splitDottedOnce(name)
		mod, hasModule := product.FindModule([]string{moduleName})
		hasModule = hasModule && mod.Item != nil
		if v.Base == nil && product != nil && hasModule {
			// Bind `outer` to the enclosing product's evaluated value for
			// the same dotted module property before the override
			// expression runs.
			outerVal, err := r.ev.Value(ctx, mod.Item, propName)
			if err == nil {
				r.ev.BindAmbient("outer", outerVal)
			}
		}
		val, err := r.ev.Value(ctx, it, name)
		r.ev.UnbindAmbient("outer")
		if err != nil {
			return nil, err
		}
		if g.Properties[moduleName] == nil {
			g.Properties[moduleName] = make(map[string]any)
		}
		g.Properties[moduleName][propName] = val
		if hasModule && mod.Item != nil {
			if overridden[moduleName] == nil {
				overridden[moduleName] = make(map[string]bool)
			}
			overridden[moduleName][propName] = true
		}
	}

	for moduleName, propNames := range overridden {
		mod, ok := product.FindModule([]string{moduleName})
		if !ok {
			continue
		}
		if err := r.recomputeOverriddenModuleProperties(ctx, mod.Item, propNames, g.Properties[moduleName]); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// recomputeOverriddenModuleProperties is pass 2 of spec §4's "two-pass
// module property evaluation": mod's overridden properties (already
// stored in dest by the caller) are assigned onto mod itself, and every
// other declared property whose pass-1 evaluation read one of them is
// recomputed and stored into dest too, before the temporary assignment
// is rolled back. mod is shared by every Group in the product, so the
// override must not outlive this call.
func (r *Resolver) recomputeOverriddenModuleProperties(ctx context.Context, mod *item.Item, overridden map[string]bool, dest map[string]any) error {
	originals := make(map[string]*item.Value, len(overridden))
	for name := range overridden {
		originals[name] = mod.OwnProperty(name)
		mod.SetProperty(name, item.NewVariant(dest[name]))
	}
	r.ev.InvalidateCache(mod)

	recomputeErr := func() error {
		for name := range mod.Declarations {
			if overridden[name] {
				continue
			}
			dependsOnOverride := false
			for _, dep := range r.ev.PropertyDependencies(mod, name) {
				if dep.Item == mod && overridden[dep.Name] {
					dependsOnOverride = true
					break
				}
			}
			if !dependsOnOverride {
				continue
			}
			val, err := r.ev.Value(ctx, mod, name)
			if err != nil {
				return err
			}
			dest[name] = val
		}
		return nil
	}()

	for name, original := range originals {
		if original != nil {
			mod.Properties[name] = original
		} else {
			mod.RemoveProperty(name)
		}
	}
	r.ev.InvalidateCache(mod)

	return recomputeErr
}

func dottedModuleProperty(name string) bool {
	for _, c := range name {
		if c == '.' {
			return true
		}
	}
	return false
}

func splitDottedOnce(name string) (string, string) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}

// resolveRule evaluates a Rule's static declarations - everything except
// its prepare/outputArtifacts closures, which run at build time against
// the concrete inputs a rule match produces and so are captured as raw
// source (spec §8 "Rule") - and checks the three validity invariants a
// Rule must satisfy regardless of which closure form it uses.
func (r *Resolver) resolveRule(ctx context.Context, it *item.Item) (*Rule, error) {
	rule := &Rule{Location: it.Location(), RequiresInputs: true}

	if v, ok, err := r.ev.OptionalStringListValue(ctx, it, "inputs"); err != nil {
		return nil, err
	} else if ok {
		rule.Inputs = v
	}
	if v, ok, err := r.ev.OptionalStringListValue(ctx, it, "auxiliaryInputs"); err != nil {
		return nil, err
	} else if ok {
		rule.AuxiliaryInputs = v
	}
	if it.HasProperty("outputFileTags") {
		tags, err := r.ev.FileTagsValue(ctx, it, "outputFileTags")
		if err != nil {
			return nil, err
		}
		rule.OutputFileTags = tags
	}
	if it.HasProperty("multiplex") {
		v, err := r.ev.BoolValue(ctx, it, "multiplex")
		if err != nil {
			return nil, err
		}
		rule.Multiplex = v
	}
	if it.HasProperty("requiresInputs") {
		v, err := r.ev.BoolValue(ctx, it, "requiresInputs")
		if err != nil {
			return nil, err
		}
		rule.RequiresInputs = v
	}
	if it.HasProperty("alwaysRun") {
		v, err := r.ev.BoolValue(ctx, it, "alwaysRun")
		if err != nil {
			return nil, err
		}
		rule.AlwaysRun = v
	}
	if v := it.Property("prepare"); v != nil {
		rule.PrepareCode = v.SourceCode()
	}

	for _, artifact := range it.ChildrenOfType(item.TypeArtifact) {
		ra, err := r.resolveRuleArtifact(artifact)
		if err != nil {
			return nil, err
		}
		rule.Artifacts = append(rule.Artifacts, ra)
	}

	if err := r.checkRuleInvariants(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// resolveRuleArtifact captures an Artifact child's filePath/fileTags as
// raw source - both commonly reference the rule's `input` binding, only
// available once a rule match actually runs - plus every nested dotted
// property assignment (`cpp.defines: [...]`) flattened into a Binding,
// sorted by dotted name for a stable resolved order.
func (r *Resolver) resolveRuleArtifact(it *item.Item) (RuleArtifact, error) {
	ra := RuleArtifact{Location: it.Location()}
	if v := it.Property("filePath"); v != nil {
		ra.FilePathCode = v.SourceCode()
	}
	if v := it.Property("fileTags"); v != nil {
		ra.FileTagsCode = v.SourceCode()
	}

	names := make([]string, 0, len(it.Properties))
	for name := range it.Properties {
		if name == "filePath" || name == "fileTags" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := it.Properties[name]
		ra.Bindings = append(ra.Bindings, Binding{
			NamePath: strings.Split(name, "."),
			Code:     v.SourceCode(),
			Location: v.ValueLocation(),
		})
	}
	return ra, nil
}

// checkRuleInvariants enforces spec §8's three Rule validity
// requirements: a non-multiplex rule needs at least one input; skipping
// required inputs only makes sense for a multiplex rule (one match
// producing output with no per-input artifact); and a rule needs some
// way to declare what it produces, either Artifact children or a static
// outputFileTags list.
func (r *Resolver) checkRuleInvariants(rule *Rule) error {
	if !rule.Multiplex && len(rule.Inputs) == 0 && len(rule.AuxiliaryInputs) == 0 {
		return &loaderrors.ResolveError{
			Location: rule.Location,
			Message:  "non-multiplex rule must declare at least one input",
		}
	}
	if !rule.RequiresInputs && !rule.Multiplex {
		return &loaderrors.ResolveError{
			Location: rule.Location,
			Message:  "requiresInputs: false is only valid on a multiplex rule",
		}
	}
	if len(rule.Artifacts) == 0 && len(rule.OutputFileTags) == 0 {
		return &loaderrors.ResolveError{
			Location: rule.Location,
			Message:  "rule declares no outputs: add an Artifact child or an outputFileTags list",
		}
	}
	return nil
}

func (r *Resolver) resolveFileTagger(ctx context.Context, it *item.Item) (*FileTagger, error) {
	patterns, err := r.ev.StringListValue(ctx, it, "patterns")
	if err != nil {
		return nil, err
	}
	tags, err := r.ev.FileTagsValue(ctx, it, "fileTags")
	if err != nil {
		return nil, err
	}
	return &FileTagger{Patterns: patterns, Tags: tags}, nil
}

func (r *Resolver) resolveJobLimit(ctx context.Context, it *item.Item) (*JobLimit, error) {
	name, err := r.ev.StringValue(ctx, it, "name")
	if err != nil {
		return nil, err
	}
	limit, err := r.ev.IntValue(ctx, it, "jobCount")
	if err != nil {
		return nil, err
	}
	return &JobLimit{Name: name, Limit: limit}, nil
}

func (r *Resolver) resolveScanner(ctx context.Context, it *item.Item) (*Scanner, error) {
	patterns, err := r.ev.StringListValue(ctx, it, "patterns")
	if err != nil {
		return nil, err
	}
	return &Scanner{Patterns: patterns}, nil
}

func (r *Resolver) resolveExport(ctx context.Context, it *item.Item) (*Export, error) {
	props := make(map[string]any)
	for name := range it.Declarations {
		v, err := r.ev.Value(ctx, it, name)
		if err != nil {
			return nil, err
		}
		props[name] = v
	}
	return &Export{Properties: props}, nil
}

// applyFileTaggers tags every file in g according to the product's
// FileTagger list, walked in registration order; the first matching
// tagger each file encounters, in declaration order, wins (SPEC_FULL.md
// Open Question decision 3).
func (r *Resolver) applyFileTaggers(g *Group, taggers []*FileTagger) {
	for i := range g.Files {
		if len(g.Files[i].Tags) > 0 {
			continue
		}
		for _, t := range taggers {
			if matchesAny(t.Patterns, g.Files[i].FilePath) {
				g.Files[i].Tags = t.Tags
				break
			}
		}
	}
}

func matchesAny(patterns []string, path string) bool {
	base := filepath.Base(path)
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(pat, path); ok {
			return true
		}
	}
	return false
}

// expandGlobs expands each files/excludeFiles pattern relative to
// baseDir using doublestar (spec §4.8 "Group"), returning the final
// deduplicated, sorted file list.
func expandGlobs(baseDir string, patterns, excludePatterns []string) ([]string, error) {
	excluded := make(map[string]bool)
	for _, pat := range excludePatterns {
		matches, err := globRelative(baseDir, pat)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			excluded[m] = true
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, pat := range patterns {
		matches, err := globRelative(baseDir, pat)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 && !hasGlobMeta(pat) {
			matches = []string{pat}
		}
		for _, m := range matches {
			if excluded[m] || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func hasGlobMeta(pat string) bool {
	for _, c := range pat {
		if c == '*' || c == '?' || c == '[' {
			return true
		}
	}
	return false
}

func globRelative(baseDir, pattern string) ([]string, error) {
	fsys := osFS(baseDir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	return matches, nil
}
