package dsl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladoga/internal/schema"
)

func writeDSL(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const pollDSL = `# опросник
entity Question:
  question_text: string max_length=200 label="Текст вопроса"
  pub_date: datetime required
  status: enum[draft, published] default=draft

entity Choice:
  question: ref[Question] on_delete=cascade required
  choice_text: string max_length=200 required
  votes: int default=0
`

func TestLoadEntitiesPoll(t *testing.T) {
	ents, err := LoadEntities(writeDSL(t, "poll.dsl", pollDSL))
	require.NoError(t, err)
	require.Len(t, ents, 2)

	q := ents[0]
	assert.Equal(t, "Question", q.Name)
	require.Len(t, q.Fields, 3)
	assert.Equal(t, schema.Field{
		Name: "question_text", Kind: schema.KindString, MaxLength: 200, Label: "Текст вопроса",
	}, q.Fields[0])
	assert.Equal(t, schema.Field{
		Name: "pub_date", Kind: schema.KindDateTime, Required: true,
	}, q.Fields[1])
	assert.Equal(t, schema.Field{
		Name: "status", Kind: schema.KindEnum, Enum: []string{"draft", "published"}, Default: "draft",
	}, q.Fields[2])

	c := ents[1]
	assert.Equal(t, "Choice", c.Name)
	require.Len(t, c.Relationships, 1)
	assert.Equal(t, schema.Relationship{
		Name: "question", Target: "Question", OnDelete: schema.OnDeleteCascade, Required: true,
	}, c.Relationships[0])
	require.Len(t, c.Fields, 2)
	assert.Equal(t, "0", c.Fields[1].Default)
}

func TestLoadEntitiesEnumRef(t *testing.T) {
	ents, err := LoadEntities(writeDSL(t, "s.dsl", "entity Q:\n  status: enum[@question_status]\n"))
	require.NoError(t, err)
	require.Len(t, ents, 1)
	f := ents[0].Fields[0]
	assert.Equal(t, schema.KindEnum, f.Kind)
	assert.Equal(t, "question_status", f.EnumRef)
	assert.Empty(t, f.Enum)
}

func TestLoadEntitiesDefaultOnDelete(t *testing.T) {
	ents, err := LoadEntities(writeDSL(t, "r.dsl", "entity B:\n  a: ref[A]\n"))
	require.NoError(t, err)
	assert.Equal(t, schema.OnDeleteRestrict, ents[0].Relationships[0].OnDelete)
}

func TestLoadEntitiesErrors(t *testing.T) {
	_, err := LoadEntities(writeDSL(t, "bad1.dsl", "entity Q:\n  x: wat\n"))
	assert.Error(t, err)

	_, err = LoadEntities(writeDSL(t, "bad2.dsl", "entity Q:\n  n: int max_length=10\n"))
	assert.Error(t, err)

	_, err = LoadEntities(writeDSL(t, "bad3.dsl", "entity B:\n  a: ref[A] on_delete=explode\n"))
	assert.Error(t, err)
}

func TestLoadAllDuplicateEntity(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dsl"), []byte("entity Q:\n  x: int\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dsl"), []byte("entity Q:\n  y: int\n"), 0o644))

	_, err := LoadAll(dir)
	assert.ErrorContains(t, err, "duplicate entity")
}
