// Package qploader implements the project loader for a declarative,
// multi-language build tool. Projects are described in a QML-like
// declarative language with embedded JavaScript-style expressions; the
// loader resolves that description into a concrete, in-memory build
// graph of products, artifacts, rules, and commands.
//
// # Pipeline
//
// Loading a project runs in stages:
//
//  1. Read: the item reader (internal/reader) parses declarative source
//     files into a typed item tree, applying QML-style prototype
//     inheritance and import resolution.
//  2. Evaluate: the evaluator (internal/eval) lazily computes property
//     values from embedded script expressions against a scope chain, with
//     memoization and dependency tracking.
//  3. Load modules: the module loader (internal/modules) resolves a
//     product's Depends items to module files, instantiates per-product
//     module items, merges profile overrides, and enforces conditions. A
//     module that cannot be found is handed to the module provider loader,
//     which synthesizes search paths by running generator scripts.
//  4. Resolve probes: the probes resolver (internal/probes) runs
//     Probe.configure scripts during loading, caching results against
//     previous runs.
//  5. Build and resolve: the project tree builder (internal/builder)
//     composes the above into a raw item tree; the project resolver
//     (internal/resolve) walks it to emit the resolved project model.
//
// # Usage
//
//	params := qploader.SetupProjectParameters{
//		ProjectFilePath: "project.qbp",
//		BuildRoot:       "/tmp/build",
//		TopLevelProfile: "default",
//	}
//	loader, err := qploader.New(params, logger)
//	if err != nil {
//		return err
//	}
//	defer loader.Close()
//	project, err := loader.Setup(ctx)
//
// # Scope
//
// This package implements the project loader only. The command-line
// front end, the command executor, persistence of the resolved build
// graph to disk, host-toolchain detection, the settings store backing
// user profiles, the plugin loader, and general OS utilities are external
// collaborators invoked through the interfaces in the qploader and
// loaderrors packages.
package qploader
