package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qploader/qploader/internal/item"
)

func newTestItem(pool *item.Pool, decls map[string]item.PropertyDeclaration) *item.Item {
	it := pool.New(item.TypeProduct, item.CodeLocation{FilePath: "test.qbp", Line: 1})
	it.Declarations = decls
	return it
}

func TestEvaluatorVariantPassthrough(t *testing.T) {
	pool := item.NewPool()
	it := newTestItem(pool, map[string]item.PropertyDeclaration{
		"name": {Name: "name", Type: item.PropertyTypeString},
	})
	it.SetProperty("name", item.NewVariant("myapp"))

	ev := NewEvaluator(NewRisorEngine(nil), 0)
	got, err := ev.StringValue(context.Background(), it, "name")
	require.NoError(t, err)
	assert.Equal(t, "myapp", got)
}

func TestEvaluatorMemoizesResult(t *testing.T) {
	pool := item.NewPool()
	it := newTestItem(pool, map[string]item.PropertyDeclaration{
		"name": {Name: "name", Type: item.PropertyTypeString},
	})
	it.SetProperty("name", item.NewVariant("myapp"))

	ev := NewEvaluator(NewRisorEngine(nil), 0)
	ctx := context.Background()
	first, err := ev.Value(ctx, it, "name")
	require.NoError(t, err)
	second, err := ev.Value(ctx, it, "name")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ev.InvalidateCache(it)
	_, ok := ev.cache.Get(cacheKey{it, "name"})
	assert.False(t, ok)
}

func TestEvaluatorDetectsSelfCycle(t *testing.T) {
	pool := item.NewPool()
	it := newTestItem(pool, map[string]item.PropertyDeclaration{
		"a": {Name: "a", Type: item.PropertyTypeString},
	})
	it.SetProperty("a", item.NewJSSource("a", item.CodeLocation{FilePath: "t.qbp", Line: 3}, it))

	ev := NewEvaluator(NewRisorEngine(nil), 0)
	_, err := ev.Value(context.Background(), it, "a")
	require.Error(t, err)
}

func TestConvertToPropertyTypeCoercesStringListFromSingleString(t *testing.T) {
	pool := item.NewPool()
	it := newTestItem(pool, map[string]item.PropertyDeclaration{
		"files": {Name: "files", Type: item.PropertyTypeStringList},
	})
	ev := NewEvaluator(NewRisorEngine(nil), 0)
	got, err := ev.ConvertToPropertyType(it, "files", "main.cpp")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.cpp"}, got)
}
