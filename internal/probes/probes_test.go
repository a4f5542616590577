package probes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qploader/qploader/internal/item"
)

func TestGlobalIDCombinesFileAndID(t *testing.T) {
	pool := item.NewPool()
	probe := pool.New(item.TypeProbe, item.CodeLocation{FilePath: "compiler.qbp", Line: 4})
	probe.File = item.NewFileContext("compiler.qbp", "", nil)
	probe.ItemID = "cxxProbe"

	assert.Equal(t, "compiler.qbp#cxxProbe", GlobalID(probe))
}

func TestGlobalIDFallsBackToFileOnly(t *testing.T) {
	pool := item.NewPool()
	probe := pool.New(item.TypeProbe, item.CodeLocation{FilePath: "compiler.qbp", Line: 4})
	probe.File = item.NewFileContext("compiler.qbp", "", nil)

	assert.Equal(t, "compiler.qbp", GlobalID(probe))
}

func TestSha256sumDeterministic(t *testing.T) {
	assert.Equal(t, sha256sum("found = true;"), sha256sum("found = true;"))
	assert.NotEqual(t, sha256sum("a"), sha256sum("b"))
}
