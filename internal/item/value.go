package item

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	// JSSourceKind holds an unevaluated script expression.
	JSSourceKind ValueKind = iota
	// VariantKind holds an already-computed value (string, list, bool,
	// int, map, or nested list of these).
	VariantKind
	// ItemValueKind holds a structural reference to a nested Item, used
	// for module prefixes and module instances.
	ItemValueKind
)

// Value is the sum type backing every property slot on an Item. Exactly
// one of the Kind-selected fields is meaningful.
type Value struct {
	Kind ValueKind

	// JSSourceKind fields.
	Code            string
	Location        CodeLocation
	Scope           *Item
	UsedImports     []string
	IsBuiltinDefault bool
	SetByProfile    bool

	// VariantKind field.
	Data any

	// ItemValueKind field.
	Target *Item

	// Base chains to the previously defined value of the same property on
	// the prototype, resolved through the prototype chain. A JsSource
	// expression that reads the identifier `base` follows this link.
	Base *Value
}

// NewJSSource constructs a Value wrapping an unevaluated script
// expression.
func NewJSSource(code string, loc CodeLocation, scope *Item) *Value {
	return &Value{Kind: JSSourceKind, Code: code, Location: loc, Scope: scope}
}

// NewVariant constructs a Value wrapping an already-computed value.
func NewVariant(data any) *Value {
	return &Value{Kind: VariantKind, Data: data}
}

// NewItemValue constructs a Value that structurally references a nested
// Item.
func NewItemValue(target *Item) *Value {
	return &Value{Kind: ItemValueKind, Target: target}
}

// IsJSSource reports whether the value is an unevaluated script
// expression.
func (v *Value) IsJSSource() bool { return v != nil && v.Kind == JSSourceKind }

// IsVariant reports whether the value already holds a computed value.
func (v *Value) IsVariant() bool { return v != nil && v.Kind == VariantKind }

// IsItemValue reports whether the value references a nested item.
func (v *Value) IsItemValue() bool { return v != nil && v.Kind == ItemValueKind }

// SourceCode returns the script expression text, or "" for non-JSSource
// values. Mirrors the narrow trait original_source's Value hierarchy
// exposes (sourceCode()/location()) instead of full virtual dispatch.
func (v *Value) SourceCode() string {
	if v == nil || v.Kind != JSSourceKind {
		return ""
	}
	return v.Code
}

// ValueLocation returns the location associated with the value, if any.
func (v *Value) ValueLocation() CodeLocation {
	if v == nil {
		return CodeLocation{}
	}
	return v.Location
}

// Clone produces a shallow copy of the value (used when an item
// overrides a property it inherited unchanged so later mutation doesn't
// alias the prototype's copy).
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
