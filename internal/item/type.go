package item

// Type is the fixed enumeration of item kinds the declarative grammar
// recognizes (spec §3).
type Type int

const (
	TypeUnknown Type = iota
	TypeProject
	TypeSubProject
	TypeProduct
	TypeGroup
	TypeModule
	TypeModuleProvider
	TypeDepends
	TypeParameter
	TypeProperties
	TypePropertiesInSubProject
	TypeProbe
	TypeRule
	TypeArtifact
	TypeFileTagger
	TypeJobLimit
	TypeScanner
	TypeExport
	TypePropertyOptions
	TypeModuleInstancePlaceholder
	TypeModulePrefix
)

var typeNames = map[Type]string{
	TypeProject:                   "Project",
	TypeSubProject:                "SubProject",
	TypeProduct:                   "Product",
	TypeGroup:                     "Group",
	TypeModule:                    "Module",
	TypeModuleProvider:            "ModuleProvider",
	TypeDepends:                   "Depends",
	TypeParameter:                 "Parameter",
	TypeProperties:                "Properties",
	TypePropertiesInSubProject:    "PropertiesInSubProject",
	TypeProbe:                     "Probe",
	TypeRule:                      "Rule",
	TypeArtifact:                  "Artifact",
	TypeFileTagger:                "FileTagger",
	TypeJobLimit:                  "JobLimit",
	TypeScanner:                   "Scanner",
	TypeExport:                    "Export",
	TypePropertyOptions:           "PropertyOptions",
	TypeModuleInstancePlaceholder: "ModuleInstancePlaceholder",
	TypeModulePrefix:              "ModulePrefix",
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// String returns the grammar's display name for a Type, or "Unknown".
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// TypeFromName resolves a grammar type name (e.g. "Product") to its Type,
// and reports whether it matched.
func TypeFromName(name string) (Type, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// PropertyFlags are bit flags describing a declared property.
type PropertyFlags int

const (
	PropertyNone PropertyFlags = 1 << iota
	PropertyReadOnly
	PropertyAllowedValuesOnly
)

// PropertyType is the declared type of a property, used by
// convertToPropertyType-equivalent coercion in the evaluator.
type PropertyType int

const (
	PropertyTypeUnknown PropertyType = iota
	PropertyTypeBool
	PropertyTypeInt
	PropertyTypeString
	PropertyTypePath
	PropertyTypePathList
	PropertyTypeStringList
	PropertyTypeVariantList
	PropertyTypeVariant
)

// PropertyDeclaration records the declared shape of one property: its
// type, flags, allowed values, and default expression.
type PropertyDeclaration struct {
	Name          string
	Type          PropertyType
	Flags         PropertyFlags
	AllowedValues []any
	DefaultExpr   string
}
