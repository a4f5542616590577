package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore map[string]Profile

func (s fakeStore) FindProfile(name string) (Profile, bool) {
	p, ok := s[name]
	return p, ok
}

func TestChainOrdersRootFirst(t *testing.T) {
	store := fakeStore{
		"base": {Name: "base", Properties: map[string]any{"cpp.optimization": "none"}},
		"debug": {Name: "debug", BaseName: "base", Properties: map[string]any{
			"cpp.optimization": "fast",
			"qbs.buildVariant": "debug",
		}},
	}

	chain, err := Chain(store, "debug")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "base", chain[0].Name)
	assert.Equal(t, "debug", chain[1].Name)

	merged := Merge(chain)
	assert.Equal(t, "fast", merged["cpp.optimization"])
	assert.Equal(t, "debug", merged["qbs.buildVariant"])
}

func TestChainDetectsCycle(t *testing.T) {
	store := fakeStore{
		"a": {Name: "a", BaseName: "b"},
		"b": {Name: "b", BaseName: "a"},
	}
	_, err := Chain(store, "a")
	require.Error(t, err)
}
