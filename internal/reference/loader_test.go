package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnumCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "question_status.yaml"), []byte(`
name: question_status
items:
  - code: published
    name: Опубликован
    order: 2
  - code: draft
    name: Черновик
    order: 1
`), 0o644))
	// имя из файла, если поля name нет
	require.NoError(t, os.WriteFile(filepath.Join(dir, "priority.yml"), []byte(`
items:
  - code: low
  - code: high
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	catalog, err := LoadEnumCatalog(dir)
	require.NoError(t, err)
	require.Len(t, catalog, 2)

	assert.Equal(t, []string{"draft", "published"}, catalog["question_status"].Codes())
	assert.Equal(t, []string{"low", "high"}, catalog["priority"].Codes())
}

func TestLoadEnumCatalogMissingDir(t *testing.T) {
	catalog, err := LoadEnumCatalog(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestLoadEnumCatalogBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("items: ["), 0o644))
	_, err := LoadEnumCatalog(dir)
	assert.Error(t, err)
}
