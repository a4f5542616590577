package qploader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupResolvesSimpleProduct(t *testing.T) {
	dir := t.TempDir()
	projectFile := filepath.Join(dir, "project.qbp")
	src := `Product {
    name: "myapp"
    type: ["application"]
    Group {
        files: []
    }
}`
	require.NoError(t, os.WriteFile(projectFile, []byte(src), 0o644))

	params := SetupProjectParameters{
		ProjectFilePath: projectFile,
		BuildRoot:       dir,
	}
	loader, err := New(params, nil)
	require.NoError(t, err)
	defer loader.Close()

	project, err := loader.Setup(context.Background())
	require.NoError(t, err)
	require.Len(t, project.Products, 1)
	assert.Equal(t, "myapp", project.Products[0].Name)

	q := NewProjectQuery(project)
	p, ok := q.Product("myapp")
	require.True(t, ok)
	assert.Equal(t, "myapp", p.Name)
}
