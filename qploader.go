package qploader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/qploader/qploader/internal/builder"
	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/internal/modules"
	"github.com/qploader/qploader/internal/probes"
	"github.com/qploader/qploader/internal/profile"
	"github.com/qploader/qploader/internal/pstore"
	"github.com/qploader/qploader/internal/reader"
	"github.com/qploader/qploader/internal/resolve"
	"github.com/qploader/qploader/loaderrors"
)

// Loader drives one project-loading session: Item Reader, Evaluator,
// Module Loader, Probes Resolver, Project Tree Builder, and Project
// Resolver, all constructed fresh per Loader so no state is shared
// across independently configured projects (spec §9 "no global state").
type Loader struct {
	params SetupProjectParameters
	log    *slog.Logger

	pool    *item.Pool
	cache   *reader.SourceCache
	itemRdr *reader.ItemReader
	engine  eval.Engine
	ev      *eval.Evaluator
	store   *pstore.Store
}

// New constructs a Loader for one Setup call. The persisted store lives
// at <BuildRoot>/build-graph.sqlite (spec §6 "persistent build-graph
// schema").
func New(params SetupProjectParameters, log *slog.Logger) (*Loader, error) {
	if log == nil {
		log = slog.Default()
	}

	var store *pstore.Store
	var err error
	if params.BuildRoot != "" {
		store, err = pstore.Open(filepath.Join(params.BuildRoot, "build-graph.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("opening persistence store: %w", err)
		}
	}

	pool := item.NewPool()
	cache := reader.NewSourceCache()
	itemRdr := reader.NewItemReader(pool, cache, params.ModuleSearchPaths)
	engine := eval.NewRisorEngine(nil)
	ev := eval.NewEvaluator(engine, 0)
	ev.SetImporter(reader.NewImportBinder(itemRdr, reader.NewScriptImporter(engine), cache))

	return &Loader{
		params:  params,
		log:     log,
		pool:    pool,
		cache:   cache,
		itemRdr: itemRdr,
		engine:  engine,
		ev:      ev,
		store:   store,
	}, nil
}

// Close releases the Loader's persistence store and source cache.
func (l *Loader) Close() error {
	var first error
	if l.store != nil {
		if err := l.store.Close(); err != nil {
			first = err
		}
	}
	if err := l.cache.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Setup reads, resolves, and returns the project tree (spec §2 control
// flow). Independent products fail independently; a non-nil error of
// type *loaderrors.AggregateError still carries a partially resolved
// Project for callers using the "Relaxed" propagation policy (spec §7).
func (l *Loader) Setup(ctx context.Context) (*resolve.Project, error) {
	if l.params.RestoreOnly {
		return nil, &loaderrors.NotFoundError{Path: l.params.ProjectFilePath, Message: "RestoreOnly requested but persistence restore is not implemented by this loader"}
	}

	l.log.InfoContext(ctx, "reading project", "path", l.params.ProjectFilePath)
	root, err := l.itemRdr.ReadFile(l.params.ProjectFilePath)
	if err != nil {
		return nil, err
	}

	profileDefaults, err := l.resolveProfile()
	if err != nil {
		return nil, &loaderrors.ProfileError{ProfileName: l.params.TopLevelProfile, Unknown: []string{err.Error()}}
	}
	for k, v := range l.params.BuildConfigOverrides {
		profileDefaults[k] = v
	}

	l.ev.SetPathPropertiesBaseDir(filepath.Dir(l.params.ProjectFilePath))
	l.ev.BindAmbient("project", root)
	l.ev.BindAmbient("qbs", modules.QbsBuiltins())

	var probeStore probes.Store
	if l.store != nil {
		probeStore = l.store
	}
	probeResolver := probes.NewResolver(l.ev, probeStore, l.params.ForceProbeExecution)

	pathResolver := builder.NewPathResolver(l.params.ModuleSearchPaths)
	providerLoader := modules.NewProviderLoader(pathResolver, l.itemRdr, l.ev, probeResolver, l.params.ModuleProviders)
	checkMode := modules.PropertyCheckingStrict
	if l.params.PropertyCheckingMode == PropertyCheckingRelaxed {
		checkMode = modules.PropertyCheckingRelaxed
	}
	moduleLoader := modules.NewModuleLoader(l.itemRdr, pathResolver, l.ev, providerLoader, l.log, checkMode)

	treeBuilder := builder.New(l.ev, moduleLoader, probeResolver, profileDefaults)
	built, buildErr := treeBuilder.Build(ctx, root)
	if buildErr != nil {
		if _, ok := buildErr.(*loaderrors.AggregateError); !ok {
			return nil, buildErr
		}
		if l.params.ProductErrorMode == ProductErrorModeStrict {
			return nil, buildErr
		}
		l.log.WarnContext(ctx, "some products failed to load", "error", buildErr)
	}

	projectResolver := resolve.New(l.ev)
	project, resolveErr := projectResolver.Resolve(ctx, built)
	if resolveErr != nil {
		return nil, resolveErr
	}

	if buildErr != nil {
		return project, buildErr
	}
	return project, nil
}

// resolveProfile walks the configured profile's baseProfile chain and
// merges it into a flat dotted-name property map (spec §4.9).
func (l *Loader) resolveProfile() (map[string]any, error) {
	if l.params.TopLevelProfile == "" || l.store == nil {
		return make(map[string]any), nil
	}
	chain, err := profile.Chain(l.store, l.params.TopLevelProfile)
	if err != nil {
		return nil, err
	}
	return profile.Merge(chain), nil
}
