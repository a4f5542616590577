package qploader

// ProductErrorMode selects how a per-product loading error is handled
// once the rest of the project has been walked (spec §7 propagation
// policy). Strict, the zero value, fails the whole Setup call. Relaxed
// downgrades the error to a warning and returns the partially resolved
// project instead.
type ProductErrorMode int

const (
	// ProductErrorModeStrict fails Setup on any per-product error.
	ProductErrorModeStrict ProductErrorMode = iota
	// ProductErrorModeRelaxed downgrades a per-product error to a
	// warning and returns the partially resolved project.
	ProductErrorModeRelaxed
)

// PropertyCheckingMode selects how an override or profile value assigned
// to a property no module/product declares is handled (spec §6
// `propertyCheckingMode`). Strict, the zero value, fails module loading
// with a ProfileError. Relaxed logs the unknown assignment and proceeds
// as if it had never been made.
type PropertyCheckingMode int

const (
	// PropertyCheckingStrict fails on an unknown property assignment.
	PropertyCheckingStrict PropertyCheckingMode = iota
	// PropertyCheckingRelaxed logs and ignores an unknown property
	// assignment.
	PropertyCheckingRelaxed
)

// SetupProjectParameters configures one Setup call (spec §6): the
// project file to read, where generated artifacts would be written, the
// profile to resolve, and the overrides layered on top of it.
type SetupProjectParameters struct {
	// ProjectFilePath is the root project file to read.
	ProjectFilePath string
	// BuildRoot is the directory probes, the module-provider cache, and
	// the persisted build graph live under.
	BuildRoot string
	// TopLevelProfile names the profile to resolve via internal/profile.
	TopLevelProfile string
	// ModuleSearchPaths lists directories the Module Loader and Module
	// Provider Loader search, in priority order.
	ModuleSearchPaths []string
	// ModuleProviders is the project's explicit providers list (spec §4.6
	// LookupNamed candidates).
	ModuleProviders []string
	// BuildConfigOverrides are dotted-name property overrides applied on
	// top of the resolved profile chain (command-line `-d`-equivalent).
	BuildConfigOverrides map[string]any
	// RestoreOnly, when true, makes Setup fail with
	// loaderrors.NotFoundError without reading the project. Setup does
	// not restore a stored build graph, so this happens whether or not
	// one exists.
	RestoreOnly bool
	// ForceProbeExecution ignores probe results stored by earlier Setup
	// runs and re-runs each probe's configure script; a result already
	// computed in this Setup call is still reused (spec §4.5 "force
	// mode").
	ForceProbeExecution bool
	// ProductErrorMode selects Strict or Relaxed per-product error
	// propagation (spec §7).
	ProductErrorMode ProductErrorMode
	// PropertyCheckingMode selects Strict or Relaxed handling of an
	// override/profile value assigned to an undeclared property.
	PropertyCheckingMode PropertyCheckingMode
}
