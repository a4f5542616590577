package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qploader/qploader/internal/item"
)

func TestParseSimpleProduct(t *testing.T) {
	src := `Product {
    name: "myapp"
    Depends { name: "cpp" }
    Group {
        files: ["a.cpp", "b.cpp"]
        cpp.defines: outer.concat(["B"])
    }
}`
	pool := item.NewPool()
	p := newParser("test.qbp", src, pool)
	root, file, err := p.Parse()
	require.NoError(t, err)
	assert.Equal(t, item.TypeProduct, root.Type)
	assert.Equal(t, "test.qbp", file.FilePath)

	nameVal := root.OwnProperty("name")
	require.NotNil(t, nameVal)
	assert.True(t, nameVal.IsJSSource())

	require.Len(t, root.Children, 2)
	assert.Equal(t, item.TypeDepends, root.Children[0].Type)
	assert.Equal(t, item.TypeGroup, root.Children[1].Type)

	group := root.Children[1]
	filesVal := group.OwnProperty("files")
	require.NotNil(t, filesVal)
	assert.Contains(t, filesVal.Code, "a.cpp")

	cppDefines := group.OwnProperty("cpp.defines")
	require.NotNil(t, cppDefines)
	assert.Contains(t, cppDefines.Code, "outer.concat")
}

func TestParsePropertyDeclarationWithDefault(t *testing.T) {
	src := `Module {
    property stringList defines: []
    property bool enabled: true
}`
	pool := item.NewPool()
	p := newParser("m.qbp", src, pool)
	root, _, err := p.Parse()
	require.NoError(t, err)

	decl, ok := root.Declarations["defines"]
	require.True(t, ok)
	assert.Equal(t, item.PropertyTypeStringList, decl.Type)
	assert.Equal(t, "[]", decl.DefaultExpr)

	decl2, ok := root.Declarations["enabled"]
	require.True(t, ok)
	assert.Equal(t, item.PropertyTypeBool, decl2.Type)
	assert.Equal(t, "true", decl2.DefaultExpr)
}

func TestParseModulePrefixBlock(t *testing.T) {
	src := `Group {
    cpp {
        defines: ["A"]
        cxxLanguageVersion: "c++17"
    }
}`
	pool := item.NewPool()
	p := newParser("g.qbp", src, pool)
	root, _, err := p.Parse()
	require.NoError(t, err)

	defines := root.OwnProperty("cpp.defines")
	require.NotNil(t, defines)
	lang := root.OwnProperty("cpp.cxxLanguageVersion")
	require.NotNil(t, lang)
}
