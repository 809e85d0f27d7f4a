package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladoga/internal/schema"
)

func pollRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(nil)
	_, err := reg.Register(schema.Entity{
		Name: "Question",
		Fields: []schema.Field{
			{Name: "question_text", Kind: schema.KindString, MaxLength: 200},
			{Name: "pub_date", Kind: schema.KindDateTime, Required: true},
		},
	})
	require.NoError(t, err)
	_, err = reg.Register(schema.Entity{
		Name: "Choice",
		Fields: []schema.Field{
			{Name: "choice_text", Kind: schema.KindString, MaxLength: 200},
			{Name: "votes", Kind: schema.KindInt, Default: "0"},
		},
		Relationships: []schema.Relationship{
			{Name: "question", Target: "Question", OnDelete: schema.OnDeleteCascade, Required: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Validate())
	return reg
}

func TestExprImmutability(t *testing.T) {
	reg := pollRegistry(t)
	base := New(reg, "Choice").Filter("votes", OpGt, 0)

	a := base.Filter("choice_text", OpStartsWith, "a")
	b := base.OrderBy("-votes").Slice(0, 10)

	// производные не мутируют базу и друг друга
	assert.Len(t, base.Conds, 1)
	assert.Empty(t, base.Orders)
	assert.Equal(t, -1, base.Limit)

	assert.Len(t, a.Conds, 2)
	assert.Empty(t, a.Orders)

	assert.Len(t, b.Conds, 1)
	require.Len(t, b.Orders, 1)
	assert.True(t, b.Orders[0].Desc)
	assert.Equal(t, 10, b.Limit)
}

func TestExprDottedPath(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Choice").Filter("question.question_text", OpStartsWith, "What")
	require.NoError(t, x.Err())
	assert.Equal(t, []string{"question", "question_text"}, x.Conds[0].Path)
}

func TestExprPathEndingAtRelationship(t *testing.T) {
	// путь, оканчивающийся на ссылку, сравнивает id цели
	reg := pollRegistry(t)
	x := New(reg, "Choice").Filter("question", OpEq, "some-id")
	require.NoError(t, x.Err())
	assert.Equal(t, []string{"question"}, x.Conds[0].Path)
}

func TestExprUnknownFieldSticks(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Choice").Filter("nope", OpEq, 1)
	assert.ErrorIs(t, x.Err(), ErrUnknownField)

	// дальнейшие модификаторы не затирают первую ошибку
	y := x.Filter("votes", OpGt, 0).OrderBy("votes")
	assert.ErrorIs(t, y.Err(), ErrUnknownField)
	assert.Len(t, y.Conds, 1)
}

func TestExprUnknownEntity(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Nope")
	assert.ErrorIs(t, x.Err(), schema.ErrUnknownEntity)
}

func TestExprExcludeNegates(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Choice").Exclude("votes", OpEq, 0)
	require.NoError(t, x.Err())
	assert.True(t, x.Conds[0].Negate)
}

func TestExprFilterRelated(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Question").FilterRelated("Choice", "question", "votes", OpGt, 10)
	require.NoError(t, x.Err())
	require.Len(t, x.Conds, 1)
	c := x.Conds[0]
	require.NotNil(t, c.Reverse)
	assert.Equal(t, "Choice", c.Reverse.Entity)
	assert.Equal(t, "question", c.Reverse.Via)
	assert.False(t, c.Reverse.All)

	all := New(reg, "Question").FilterRelatedAll("Choice", "question", "votes", OpGt, 0)
	require.NoError(t, all.Err())
	assert.True(t, all.Conds[0].Reverse.All)
}

func TestExprFilterRelatedBadVia(t *testing.T) {
	reg := pollRegistry(t)
	// у Choice нет ссылки "owner" на Question
	x := New(reg, "Question").FilterRelated("Choice", "owner", "votes", OpGt, 0)
	assert.ErrorIs(t, x.Err(), ErrUnknownField)
}

func TestExprTraverse(t *testing.T) {
	reg := pollRegistry(t)
	src := New(reg, "Choice").Filter("votes", OpGt, 100)
	x := src.Traverse("question")
	require.NoError(t, x.Err())

	assert.Equal(t, "Question", x.Entity)
	require.Len(t, x.Conds, 1)
	c := x.Conds[0]
	assert.Equal(t, []string{schema.IdentityField}, c.Path)
	require.NotNil(t, c.Source)
	assert.Equal(t, "Choice", c.Source.Entity)
	assert.Equal(t, "question", c.SourceCol)

	// источник не изменился
	assert.Len(t, src.Conds, 1)
}

func TestExprTraverseUnknownRelationship(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Question").Traverse("question")
	assert.ErrorIs(t, x.Err(), ErrUnknownField)
}

func TestExprOrderByPrefixes(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Choice").OrderBy("-votes", "+choice_text", "question.pub_date")
	require.NoError(t, x.Err())
	require.Len(t, x.Orders, 3)
	assert.True(t, x.Orders[0].Desc)
	assert.False(t, x.Orders[1].Desc)
	assert.Equal(t, []string{"question", "pub_date"}, x.Orders[2].Path)
}

func TestExprSliceClampsOffset(t *testing.T) {
	reg := pollRegistry(t)
	x := New(reg, "Choice").Slice(-5, 7)
	assert.Equal(t, 0, x.Offset)
	assert.Equal(t, 7, x.Limit)
}

func TestParseOp(t *testing.T) {
	op, ok := ParseOp("STARTSWITH")
	assert.True(t, ok)
	assert.Equal(t, OpStartsWith, op)

	_, ok = ParseOp("between")
	assert.False(t, ok)
}
