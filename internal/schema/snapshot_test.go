package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIsDeepCopy(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Register(questionDecl())
	require.NoError(t, err)

	snap := reg.Snapshot()
	snap.Entities[0].Fields[1].MaxLength = 999

	e, err := reg.Resolve("Question")
	require.NoError(t, err)
	f, _ := e.Field("question_text")
	assert.Equal(t, 200, f.MaxLength)
}

func TestHashIgnoresDeclarationOrder(t *testing.T) {
	a := Snapshot{Entities: []Entity{
		{Name: "B", Fields: []Field{{Name: "y", Kind: KindInt}, {Name: "x", Kind: KindString}}},
		{Name: "A"},
	}}
	b := Snapshot{Entities: []Entity{
		{Name: "A"},
		{Name: "B", Fields: []Field{{Name: "x", Kind: KindString}, {Name: "y", Kind: KindInt}}},
	}}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHashSeesContentChange(t *testing.T) {
	a := Snapshot{Entities: []Entity{{Name: "A", Fields: []Field{{Name: "x", Kind: KindString}}}}}
	b := Snapshot{Entities: []Entity{{Name: "A", Fields: []Field{{Name: "x", Kind: KindInt}}}}}
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), EmptySnapshot().Hash())
}
