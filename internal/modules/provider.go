package modules

import (
	"context"
	"fmt"
	"sync"

	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/internal/probes"
	"github.com/qploader/qploader/internal/reader"
)

// LookupShape is the shape under which a module provider was located
// (spec §4.6): a name appearing in the project's explicit providers
// list, a name scoped under the module's own namespace prefix, or the
// unscoped fallback provider.
type LookupShape int

const (
	// LookupNamed is an explicit entry in SetupProjectParameters'
	// providers list; a miss here is a fatal "unknown provider" error.
	LookupNamed LookupShape = iota
	// LookupScoped tries each prefix of the qualified module name,
	// longest to shortest; a miss here falls through silently.
	LookupScoped
	// LookupFallback is the provider named exactly "fallback".
	LookupFallback
)

// ProviderFileFinder locates the .qbp file implementing a named module
// provider.
type ProviderFileFinder interface {
	FindProviderFile(providerName string, shape LookupShape) (path string, ok bool)
}

type providerCacheKey struct {
	providerName string
	configHash   string
	shape        LookupShape
}

// ProviderLoader implements the Module Provider Loader (spec §4.6):
// given a module's qualified name, it finds a provider (by explicit
// name, scoped prefix, or fallback), reads its file as an ordinary item
// tree, runs any Probe children it declares, evaluates its generator
// script, and returns the search paths it produced. Results are cached
// by (providerName, config, lookupShape) so re-resolving the same
// module across products doesn't re-run the provider.
type ProviderLoader struct {
	finder  ProviderFileFinder
	itemRdr *reader.ItemReader
	ev      *eval.Evaluator
	probes  *probes.Resolver
	named   []string

	mu    sync.Mutex
	cache map[providerCacheKey][]string
}

// NewProviderLoader constructs a ProviderLoader. named is the project's
// explicit module-providers list (SetupProjectParameters, spec §6); a
// module name appearing there is tried under LookupNamed first.
// probeResolver may be nil, in which case a provider's Probe children
// (if any) are skipped rather than run.
func NewProviderLoader(finder ProviderFileFinder, itemRdr *reader.ItemReader, ev *eval.Evaluator, probeResolver *probes.Resolver, named []string) *ProviderLoader {
	return &ProviderLoader{
		finder:  finder,
		itemRdr: itemRdr,
		ev:      ev,
		probes:  probeResolver,
		named:   named,
		cache:   make(map[providerCacheKey][]string),
	}
}

// SearchPathsFor runs the provider(s) applicable to qualifiedName and
// returns the search paths they produced, trying each lookup shape in
// order until one succeeds. Per SPEC_FULL.md Open Question decision 1,
// only a LookupNamed miss is fatal; LookupScoped and LookupFallback
// misses fall through silently.
func (p *ProviderLoader) SearchPathsFor(ctx context.Context, qualifiedName string, config map[string]any) ([]string, error) {
	for _, candidate := range p.candidateNames(qualifiedName) {
		path, ok := p.finder.FindProviderFile(candidate.name, candidate.shape)
		if !ok {
			if candidate.shape == LookupNamed {
				return nil, fmt.Errorf("unknown module provider %q", candidate.name)
			}
			continue
		}
		paths, err := p.run(ctx, candidate.name, candidate.shape, path, config)
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			return paths, nil
		}
	}
	return nil, nil
}

type candidateName struct {
	name  string
	shape LookupShape
}

// candidateNames enumerates provider names to try, in priority order:
// the explicit named-providers list, then each prefix of qualifiedName
// from longest to shortest, then "fallback".
func (p *ProviderLoader) candidateNames(qualifiedName string) []candidateName {
	var out []candidateName
	for _, n := range p.named {
		out = append(out, candidateName{name: n, shape: LookupNamed})
	}

	parts := splitDotted(qualifiedName)
	for i := len(parts); i > 0; i-- {
		out = append(out, candidateName{name: joinDotted(parts[:i]), shape: LookupScoped})
	}

	out = append(out, candidateName{name: "fallback", shape: LookupFallback})
	return out
}

func splitDotted(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinDotted(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// run reads the provider file at scriptPath as a ModuleProvider item,
// assigns its config/name properties, runs any Probe children it
// declares (spec §4.6 step 5), and evaluates its searchPaths property.
// Results are cached by (providerName, configHash, lookupShape).
func (p *ProviderLoader) run(ctx context.Context, providerName string, shape LookupShape, scriptPath string, config map[string]any) ([]string, error) {
	key := providerCacheKey{providerName: providerName, configHash: hashConfig(config), shape: shape}

	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	prototype, err := p.itemRdr.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading module provider %q: %w", providerName, err)
	}

	instance := item.Instantiate(prototype, nil)
	instance.SetProperty("name", item.NewVariant(providerName))
	configObj := make(map[string]any, len(config))
	for k, v := range config {
		configObj[k] = v
		instance.SetProperty(k, item.NewVariant(v))
	}
	instance.SetProperty("config", item.NewVariant(configObj))

	if p.probes != nil {
		for _, probe := range instance.ChildrenOfType(item.TypeProbe) {
			if _, err := p.probes.Resolve(ctx, probe, ""); err != nil {
				return nil, fmt.Errorf("running probe for module provider %q: %w", providerName, err)
			}
		}
	}

	paths, err := p.ev.StringListValue(ctx, instance, "searchPaths")
	if err != nil {
		return nil, fmt.Errorf("running module provider %q: %w", providerName, err)
	}

	p.mu.Lock()
	p.cache[key] = paths
	p.mu.Unlock()
	return paths, nil
}
