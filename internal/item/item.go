package item

// Module records one resolved module dependency attached to an Item's
// module list (spec §3 "Module Dependency").
type Module struct {
	// Name is the qualified module name, e.g. "cpp" or "Qt.core".
	Name []string
	// Item is the instantiated module item.
	Item *Item
	// ProductInfo is set when this "module" is actually another
	// product's Export surface (a product-to-product dependency modeled
	// as a module).
	ProductInfo *ProductInfo
	// Parameters is the consumer-set parameter map for this dependency
	// (from `Depends { X.p: ... }`), keyed by dotted parameter path.
	Parameters map[string]any
	// Required is false for `Depends { required: false }`.
	Required bool
	// LimitToSubProject restricts visibility of the dependency to the
	// declaring sub-project.
	LimitToSubProject bool
}

// ProductInfo marks a Module as standing in for another product's
// exported surface.
type ProductInfo struct {
	ProductItem *Item
	ProductName string
}

// QualifiedName renders a module name as a dotted string, e.g. "Qt.core".
func QualifiedName(parts []string) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "."
		}
		s += p
	}
	return s
}

// Item is a node in the parsed declarative tree (spec §3).
type Item struct {
	id int

	Type Type
	Loc  CodeLocation

	// ItemID is the optional `id:` field used for cross-file references
	// and Probe global-id computation.
	ItemID string

	// Prototype is the item this one QML-style inherits from (nil for a
	// root item with no explicit base).
	Prototype *Item
	// Scope is the enclosing item used for unqualified name resolution
	// (usually the parent, but can differ for injected/synthetic items).
	Scope *Item
	// Parent is the structural parent in the item tree.
	Parent *Item

	Children []*Item

	// Properties maps a property name to its current Value.
	Properties map[string]*Value
	// Declarations maps a property name to its declared shape. A
	// concrete item's declarations must cover every property the
	// evaluator will read, or evaluation raises an error (spec §3
	// invariant).
	Declarations map[string]PropertyDeclaration

	// Modules is the item's resolved module dependency list (populated
	// by the module loader for Product/Group items).
	Modules []Module

	// File is the FileContext this item (or its root prototype) was
	// parsed from. Every non-synthetic item has one.
	File *FileContext

	// Synthetic marks items fabricated by the loader itself (e.g. the
	// fake Group created for files assigned directly on a Product) that
	// are exempt from the "every item has a file context" invariant.
	Synthetic bool
}

// TypeName returns the grammar display name of the item's type.
func (i *Item) TypeName() string { return i.Type.String() }

// Location returns the item's source location.
func (i *Item) Location() CodeLocation { return i.Loc }

// HasProperty reports whether name is declared or assigned somewhere
// along the prototype chain, matching the original's Item::hasProperty semantics.
func (i *Item) HasProperty(name string) bool {
	for it := i; it != nil; it = it.Prototype {
		if _, ok := it.Declarations[name]; ok {
			return true
		}
		if _, ok := it.Properties[name]; ok {
			return true
		}
	}
	return false
}

// PropertyDeclarationFor walks the prototype chain to find the nearest
// declaration for name.
func (i *Item) PropertyDeclarationFor(name string) (PropertyDeclaration, bool) {
	for it := i; it != nil; it = it.Prototype {
		if d, ok := it.Declarations[name]; ok {
			return d, true
		}
	}
	return PropertyDeclaration{}, false
}

// OwnProperty returns the Value assigned directly on this item (not
// inherited), or nil.
func (i *Item) OwnProperty(name string) *Value {
	if i.Properties == nil {
		return nil
	}
	return i.Properties[name]
}

// Property walks the prototype chain and returns the nearest assigned
// Value for name, or nil if unset anywhere.
func (i *Item) Property(name string) *Value {
	for it := i; it != nil; it = it.Prototype {
		if v, ok := it.Properties[name]; ok {
			return v
		}
	}
	return nil
}

// SetProperty assigns a Value directly on this item, chaining the
// previous value (if any, including one inherited from the prototype)
// as the new value's Base so `base` expressions still resolve.
func (i *Item) SetProperty(name string, v *Value) {
	if i.Properties == nil {
		i.Properties = make(map[string]*Value)
	}
	if v != nil && v.Base == nil {
		if prev := i.Property(name); prev != nil {
			v.Base = prev
		}
	}
	i.Properties[name] = v
}

// RemoveProperty deletes a directly-assigned property (not its
// inherited value).
func (i *Item) RemoveProperty(name string) {
	delete(i.Properties, name)
}

// SetPropertyDeclarations merges decl into the item's own declaration
// map (used by parameter-declaration forwarding, spec §4.4).
func (i *Item) SetPropertyDeclarations(decls map[string]PropertyDeclaration) {
	if i.Declarations == nil {
		i.Declarations = make(map[string]PropertyDeclaration, len(decls))
	}
	for k, v := range decls {
		i.Declarations[k] = v
	}
}

// RootPrototype walks to the outermost prototype (the item the grammar
// file actually declared, with no further base).
func (i *Item) RootPrototype() *Item {
	it := i
	for it.Prototype != nil {
		it = it.Prototype
	}
	return it
}

// FindModule returns the Module entry for a qualified name, if present.
func (i *Item) FindModule(name []string) (*Module, bool) {
	q := QualifiedName(name)
	for idx := range i.Modules {
		if QualifiedName(i.Modules[idx].Name) == q {
			return &i.Modules[idx], true
		}
	}
	return nil, false
}

// AddChild appends a child item, setting its Parent back-reference.
func (i *Item) AddChild(c *Item) {
	c.Parent = i
	i.Children = append(i.Children, c)
}

// ChildrenOfType returns direct children matching a given Type, in
// document order.
func (i *Item) ChildrenOfType(t Type) []*Item {
	var out []*Item
	for _, c := range i.Children {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// Instantiate creates a fresh copy of prototype, recursively including
// its children, scoped to scope. Each caller gets its own property
// values to mutate (a module instance's profile overrides, a provider
// instance's config bindings) without aliasing the shared parsed
// prototype or another caller's instance, and children (a module's
// Parameter items, a provider's Probe items) remain reachable on the
// instance itself rather than only on the prototype.
func Instantiate(prototype, scope *Item) *Item {
	inst := &Item{
		Type:         prototype.Type,
		Loc:          prototype.Loc,
		ItemID:       prototype.ItemID,
		Declarations: prototype.Declarations,
		File:         prototype.File,
		Prototype:    prototype,
		Scope:        scope,
		Properties:   make(map[string]*Value, len(prototype.Properties)),
	}
	for k, v := range prototype.Properties {
		inst.Properties[k] = v.Clone()
	}
	for _, child := range prototype.Children {
		inst.AddChild(Instantiate(child, inst))
	}
	return inst
}
