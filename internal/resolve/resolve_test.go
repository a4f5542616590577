package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qploader/qploader/internal/eval"
	"github.com/qploader/qploader/internal/item"
)

func TestResolveDetectsDuplicateProductNames(t *testing.T) {
	pool := item.NewPool()
	root := pool.New(item.TypeProject, item.CodeLocation{FilePath: "p.qbp", Line: 1})

	for i := 0; i < 2; i++ {
		prod := pool.New(item.TypeProduct, item.CodeLocation{FilePath: "p.qbp", Line: i + 2})
		prod.Declarations = map[string]item.PropertyDeclaration{
			"name": {Name: "name", Type: item.PropertyTypeString},
			"type": {Name: "type", Type: item.PropertyTypeStringList},
		}
		prod.SetProperty("name", item.NewVariant("dup"))
		prod.SetProperty("type", item.NewVariant([]string{"application"}))
		root.AddChild(prod)
	}

	ev := eval.NewEvaluator(eval.NewRisorEngine(nil), 0)
	r := New(ev)
	_, err := r.Resolve(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate product name")
}

func TestApplyFileTaggersFirstMatchWinsInRegistrationOrder(t *testing.T) {
	g := &Group{Files: []SourceArtifact{{FilePath: "main.cpp"}}}
	taggers := []*FileTagger{
		{Patterns: []string{"*.cpp"}, Tags: []string{"cxx"}},
		{Patterns: []string{"main.*"}, Tags: []string{"entrypoint"}},
	}
	r := &Resolver{}
	r.applyFileTaggers(g, taggers)
	assert.Equal(t, []string{"cxx"}, g.Files[0].Tags)
}
