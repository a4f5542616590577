// Package probes implements the Probes Resolver (spec §4.6... actually
// §4.6 is provider loader; probes are §4.5): running Probe.configure
// scripts during loading and caching results against previous runs so an
// expensive system inspection (compiler detection, library discovery)
// isn't repeated every time the project is set up. Grounded on
// original_source/.../language/probesresolver.cpp.
package probes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
)

// Result is one probe's resolved state, persisted across Setup calls so
// an unchanged probe need not re-run its configure script.
type Result struct {
	GlobalID          string
	Condition         bool
	ConfigureSHA256   string
	InitialProperties map[string]any
	Properties        map[string]any
	ImportedFiles     []string
	ResolvedAt        time.Time
}

// Store persists probe Results keyed by project-level global id or by
// (productName, global id) for product-scoped probes (spec §3 "Probe
// Result"). Implemented by internal/pstore.
type Store interface {
	FindProjectProbe(globalID string) (*Result, bool)
	FindProductProbe(productName, globalID string) (*Result, bool)
	SaveProjectProbe(r *Result) error
	SaveProductProbe(productName string, r *Result) error
}

// Resolver runs and caches probes.
type Resolver struct {
	ev    *eval.Evaluator
	db    Store
	force bool

	session map[string]*Result
}

// NewResolver constructs a Resolver. force, when true, ignores any
// previously stored probe and re-runs configure; a result already
// computed in this session is still reused (spec §4.5 "force mode").
func NewResolver(ev *eval.Evaluator, db Store, force bool) *Resolver {
	return &Resolver{ev: ev, db: db, force: force, session: make(map[string]*Result)}
}

// GlobalID computes a probe's global identity: its declared `id:` (if
// any, walked up the prototype chain to the item the grammar actually
// declared) combined with the defining file's path, so two probes with
// the same id in different files never collide (spec §4.5
// "probeGlobalId").
func GlobalID(probe *item.Item) string {
	root := probe.RootPrototype()
	file := ""
	if root.File != nil {
		file = root.File.FilePath
	}
	id := root.ItemID
	if id == "" {
		return file
	}
	return file + "#" + id
}

// Resolve runs probe (scoped to productName, or "" for a project-level
// probe) and returns its Result. productName disambiguates otherwise
// identical probe ids declared inside per-product context, matching the
// original's separate project/product probe stores.
func (r *Resolver) Resolve(ctx context.Context, probe *item.Item, productName string) (*Result, error) {
	globalID := GlobalID(probe)

	if cached, ok := r.session[sessionKey(productName, globalID)]; ok {
		return cached, nil
	}

	condition, err := r.ev.BoolValue(ctx, probe, "condition")
	if err != nil {
		return nil, err
	}

	initialProps, err := r.initialProperties(ctx, probe)
	if err != nil {
		return nil, err
	}

	configureCode := ""
	if v := probe.OwnProperty("configure"); v != nil {
		configureCode = v.SourceCode()
	}
	configureHash := sha256sum(configureCode)

	if !r.force {
		if old, ok := r.findOld(productName, globalID); ok && r.matches(old, condition, initialProps, configureHash) {
			r.session[sessionKey(productName, globalID)] = old
			return old, nil
		}
	}

	result := &Result{
		GlobalID:          globalID,
		Condition:         condition,
		ConfigureSHA256:   configureHash,
		InitialProperties: initialProps,
		ResolvedAt:        time.Now(),
	}

	if condition {
		guard := r.ev.DisableCaching()
		props, err := r.runConfigure(ctx, probe, configureCode, initialProps)
		guard.Close()
		if err != nil {
			return nil, err
		}
		result.Properties = props
	}

	r.session[sessionKey(productName, globalID)] = result
	if r.db != nil {
		if productName == "" {
			_ = r.db.SaveProjectProbe(result)
		} else {
			_ = r.db.SaveProductProbe(productName, result)
		}
	}
	return result, nil
}

func sessionKey(productName, globalID string) string {
	return productName + "\x00" + globalID
}

func (r *Resolver) findOld(productName, globalID string) (*Result, bool) {
	if r.db == nil {
		return nil, false
	}
	if productName == "" {
		return r.db.FindProjectProbe(globalID)
	}
	return r.db.FindProductProbe(productName, globalID)
}

// matches reports whether an old probe result can be reused: same
// condition, same initial properties, same configure script, and every
// file the configure script read is still at least as old as the
// probe's last resolution (spec §4.5 "probeMatches", mtime staleness).
func (r *Resolver) matches(old *Result, condition bool, initialProps map[string]any, configureHash string) bool {
	if old.Condition != condition || old.ConfigureSHA256 != configureHash {
		return false
	}
	if len(old.InitialProperties) != len(initialProps) {
		return false
	}
	for k, v := range initialProps {
		if ov, ok := old.InitialProperties[k]; !ok || fmt.Sprintf("%v", ov) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	for _, f := range old.ImportedFiles {
		info, err := os.Stat(f)
		if err != nil || info.ModTime().After(old.ResolvedAt) {
			return false
		}
	}
	return true
}

// initialProperties snapshots every non-configure, non-condition
// property the probe declares before configure runs, used both as part
// of the probe's cache identity and as the binding set later exposed to
// other expressions (spec §3 "Probe Result").
func (r *Resolver) initialProperties(ctx context.Context, probe *item.Item) (map[string]any, error) {
	out := make(map[string]any)
	names := make([]string, 0, len(probe.Declarations))
	for name := range probe.Declarations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "configure" || name == "condition" {
			continue
		}
		v, err := r.ev.Value(ctx, probe, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// runConfigure executes the probe's configure script against a scope
// seeded with initialProps (spec §4.5 step 5) with caching disabled (a
// forced probe re-run must not see memoized values from a previous,
// possibly stale, evaluation), then writes back whichever bindings the
// script assigned onto the probe item and returns them (spec §4.5 step
// 6).
func (r *Resolver) runConfigure(ctx context.Context, probe *item.Item, configureCode string, initialProps map[string]any) (map[string]any, error) {
	result, err := r.ev.RunProbeConfigure(ctx, probe, configureCode, initialProps)
	if err != nil {
		return nil, err
	}
	for name, val := range result {
		probe.SetProperty(name, item.NewVariant(val))
	}
	return result, nil
}

func sha256sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
