// Package builder implements the Project Tree Builder (spec §2, §4):
// composing the Item Reader, Evaluator, Module Loader, and Probes
// Resolver into one pass that turns a parsed (but not yet
// module-instantiated) item tree into a fully module-loaded, fully
// probed item tree ready for the Project Resolver.
package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/internal/modules"
	"github.com/qploader/qploader/internal/probes"
	"github.com/qploader/qploader/loaderrors"
)

// Builder drives one Setup call's tree construction.
type Builder struct {
	ev       *eval.Evaluator
	loader   *modules.ModuleLoader
	probes   *probes.Resolver
	profiles map[string]any // merged default profile, applied to every product unless overridden
}

// New constructs a Builder.
func New(ev *eval.Evaluator, loader *modules.ModuleLoader, probeResolver *probes.Resolver, profileDefaults map[string]any) *Builder {
	return &Builder{ev: ev, loader: loader, probes: probeResolver, profiles: profileDefaults}
}

// Build walks root (the parsed Project item) and returns the same tree
// with every Depends resolved into an attached Module and every Probe
// resolved, recursing into SubProject items. Errors from independent
// products are aggregated (spec §7 "Relaxed" propagation); the caller
// decides whether to treat a non-empty AggregateError as fatal.
func (b *Builder) Build(ctx context.Context, root *item.Item) (*item.Item, error) {
	productsByName, err := b.collectProductNames(ctx, root)
	if err != nil {
		return root, err
	}

	var errs []error
	b.walk(ctx, root, "", productsByName, &errs)
	if len(errs) > 0 {
		return root, &loaderrors.AggregateError{Errors: errs}
	}
	return root, nil
}

// collectProductNames evaluates every Product item's "name" property up
// front, before any Depends is resolved, so a Depends target can be
// told apart from a module file: a name matching another product in the
// tree is a product-to-product dependency (spec §3/§4.7), not a module
// lookup.
func (b *Builder) collectProductNames(ctx context.Context, it *item.Item) (map[string]*item.Item, error) {
	out := make(map[string]*item.Item)
	var walk func(*item.Item) error
	walk = func(n *item.Item) error {
		if n.Type == item.TypeProduct {
			name, err := b.ev.StringValue(ctx, n, "name")
			if err != nil {
				return err
			}
			if name != "" {
				out[name] = n
			}
		}
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(it); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) walk(ctx context.Context, it *item.Item, productName string, productsByName map[string]*item.Item, errs *[]error) {
	switch it.Type {
	case item.TypeProduct:
		name, err := b.ev.StringValue(ctx, it, "name")
		if err == nil && name != "" {
			productName = name
		}
		if err := b.resolveDependencies(ctx, it, productName, productsByName); err != nil {
			*errs = append(*errs, err)
		}
	case item.TypeProbe:
		if _, err := b.probes.Resolve(ctx, it, productName); err != nil {
			*errs = append(*errs, err)
		}
	}

	for _, child := range it.Children {
		b.walk(ctx, child, productName, productsByName, errs)
	}
}

// resolveDependencies loads every Depends child of a Product (or a
// Group, which inherits the enclosing product's Depends set per spec
// §4.8) into an attached Module entry. A Depends whose name matches
// another product in the tree becomes a product-to-product dependency
// (item.Module.ProductInfo) instead of a module-file lookup. Provider
// fallback search paths stay visible for every Depends in this loop,
// not just the lookup that produced them (spec §4.6 step 5).
func (b *Builder) resolveDependencies(ctx context.Context, product *item.Item, productName string, productsByName map[string]*item.Item) error {
	b.loader.BeginProduct()
	defer b.loader.EndProduct()

	for _, dep := range product.ChildrenOfType(item.TypeDepends) {
		nameVal, err := b.ev.StringValue(ctx, dep, "name")
		if err != nil {
			return err
		}
		if nameVal == "" {
			continue
		}
		required := true
		if dep.HasProperty("required") {
			required, err = b.ev.BoolValue(ctx, dep, "required")
			if err != nil {
				return err
			}
		}

		if target, ok := productsByName[nameVal]; ok && target != product {
			product.Modules = append(product.Modules, item.Module{
				Name:        []string{nameVal},
				ProductInfo: &item.ProductInfo{ProductItem: target, ProductName: nameVal},
				Required:    required,
			})
			continue
		}

		params, err := b.dependsParameters(ctx, dep, nameVal)
		if err != nil {
			return err
		}
		qname := []string{nameVal}

		inst, prototype, err := b.loader.LoadModule(ctx, product, qname, b.profiles, params)
		if err != nil {
			if required {
				return fmt.Errorf("loading dependency %q for product %q: %w", nameVal, productName, err)
			}
			continue
		}
		if inst == nil {
			// Condition evaluated false: module silently absent (spec §8
			// "module condition false" scenario).
			continue
		}

		if prototype != nil {
			declared := b.loader.CheckDependencyParameterDeclarations(prototype, dep)
			for p := range params {
				if _, ok := declared[p]; !ok {
					return fmt.Errorf("loading dependency %q for product %q: parameter %q is not declared by module %q", nameVal, productName, p, nameVal)
				}
			}
		}

		product.Modules = append(product.Modules, item.Module{
			Name:       qname,
			Item:       inst,
			Parameters: params,
			Required:   required,
		})
	}
	return nil
}

// dependsParameters collects a Depends item's own dotted property
// assignments (`Depends { X.p: ... }`, stored as raw source by the
// parser regardless of the assigned expression's shape) as the consumer
// parameter map forwarded into the module instance.
func (b *Builder) dependsParameters(ctx context.Context, dep *item.Item, moduleName string) (map[string]any, error) {
	prefix := moduleName + "."
	params := make(map[string]any)
	for name := range dep.Properties {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		val, err := b.ev.Value(ctx, dep, name)
		if err != nil {
			return nil, err
		}
		params[strings.TrimPrefix(name, prefix)] = val
	}
	return params, nil
}
