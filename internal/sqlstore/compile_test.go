package sqlstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladoga/internal/migrate"
	"ladoga/internal/query"
	"ladoga/internal/schema"
)

func pollRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(nil)
	_, err := reg.Register(schema.Entity{
		Name: "Question",
		Fields: []schema.Field{
			{Name: "question_text", Kind: schema.KindString, MaxLength: 200},
			{Name: "pub_date", Kind: schema.KindDateTime},
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

// компилятор не требует соединения: хватает диалекта и реестра
func pgStore(t *testing.T) (*Store, *schema.Registry) {
	t.Helper()
	reg := pollRegistry(t)
	return &Store{d: Postgres{}, reg: reg}, reg
}

func TestCompileSelectPlain(t *testing.T) {
	st, reg := pgStore(t)

	sqlText, args, err := st.CompileSelect(query.New(reg, "Question"))
	require.NoError(t, err)
	assert.Equal(t,
		`select t1."id", t1."version", t1."created_at", t1."updated_at", t1."question_text", t1."pub_date" from "questions" t1`,
		sqlText)
	assert.Empty(t, args)
}

func TestCompileSelectJoinPath(t *testing.T) {
	st, reg := pgStore(t)

	x := query.New(reg, "Choice").
		Filter("question.question_text", query.OpStartsWith, "What").
		OrderBy("-votes").
		Slice(10, 5)
	sqlText, args, err := st.CompileSelect(x)
	require.NoError(t, err)

	assert.Equal(t,
		`select t1."id", t1."version", t1."created_at", t1."updated_at", t1."choice_text", t1."votes", t1."question" from "choices" t1`+
			` left join "questions" t2 on t1."question" = t2."id"`+
			` where t2."question_text" like $1 escape '\'`+
			` order by (t1."votes" is null) asc, t1."votes" desc`+
			` limit 5 offset 10`,
		sqlText)
	assert.Equal(t, []any{`What%`}, args)
}

func TestCompileSelectSharedJoinAlias(t *testing.T) {
	st, reg := pgStore(t)

	// два условия по одному префиксу пути делят один join
	x := query.New(reg, "Choice").
		Filter("question.question_text", query.OpContains, "a").
		Filter("question.pub_date", query.OpIsNull, false)
	sqlText, _, err := st.CompileSelect(x)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(sqlText, "left join"))
	assert.Contains(t, sqlText, `t2."question_text" like $1 escape '\' and t2."pub_date" is not null`)
}

func TestCompileSelectReverse(t *testing.T) {
	st, reg := pgStore(t)

	x := query.New(reg, "Question").FilterRelated("Choice", "question", "votes", query.OpGt, 5)
	sqlText, args, err := st.CompileSelect(x)
	require.NoError(t, err)
	assert.Contains(t, sqlText,
		`exists (select 1 from "choices" t2 where t2."question" = t1."id" and t2."votes" > $1)`)
	assert.Equal(t, []any{5}, args)

	all := query.New(reg, "Question").FilterRelatedAll("Choice", "question", "votes", query.OpGt, 5)
	sqlText, _, err = st.CompileSelect(all)
	require.NoError(t, err)
	assert.Contains(t, sqlText,
		`not exists (select 1 from "choices" t2 where t2."question" = t1."id" and not (t2."votes" > $1))`)
}

func TestCompileSelectTraverse(t *testing.T) {
	st, reg := pgStore(t)

	x := query.New(reg, "Choice").Filter("votes", query.OpGt, 100).Traverse("question")
	sqlText, args, err := st.CompileSelect(x)
	require.NoError(t, err)
	assert.Contains(t, sqlText, `from "questions" t1`)
	assert.Contains(t, sqlText,
		`t1."id" in (select t2."question" from "choices" t2 where t2."votes" > $1)`)
	assert.Equal(t, []any{100}, args)
}

func TestCompileSelectInAndNegate(t *testing.T) {
	st, reg := pgStore(t)

	x := query.New(reg, "Choice").Exclude("votes", query.OpIn, []any{1, 2})
	sqlText, args, err := st.CompileSelect(x)
	require.NoError(t, err)
	assert.Contains(t, sqlText, `not (t1."votes" in ($1, $2))`)
	assert.Equal(t, []any{1, 2}, args)

	empty := query.New(reg, "Choice").Filter("votes", query.OpIn, []any{})
	sqlText, args, err = st.CompileSelect(empty)
	require.NoError(t, err)
	assert.Contains(t, sqlText, "1 = 0")
	assert.Empty(t, args)
}

func TestCompileSelectEscapesLike(t *testing.T) {
	st, reg := pgStore(t)

	x := query.New(reg, "Choice").Filter("choice_text", query.OpContains, "50%_done")
	_, args, err := st.CompileSelect(x)
	require.NoError(t, err)
	assert.Equal(t, []any{`%50\%\_done%`}, args)
}

func TestCompileCountWrapsSelect(t *testing.T) {
	st, reg := pgStore(t)

	x := query.New(reg, "Choice").Filter("votes", query.OpGt, 0).Slice(0, 10)
	sqlText, args, err := st.CompileCount(x)
	require.NoError(t, err)
	assert.Equal(t,
		`select count(*) from (select t1."id" from "choices" t1 where t1."votes" > $1 limit 10) cnt`,
		sqlText)
	assert.Equal(t, []any{0}, args)
}

func TestCompileSQLitePlaceholders(t *testing.T) {
	reg := pollRegistry(t)
	st := &Store{d: SQLite{}, reg: reg}

	sqlText, _, err := st.CompileSelect(
		query.New(reg, "Choice").Filter("votes", query.OpGte, 1).Filter("votes", query.OpLte, 9))
	require.NoError(t, err)
	assert.Contains(t, sqlText, `t1."votes" >= ? and t1."votes" <= ?`)
}

func TestTableNaming(t *testing.T) {
	assert.Equal(t, "questions", tableOf("Question"))
	assert.Equal(t, "choices", tableOf("Choices"))
	// множественное число упирается в keyword — добавляем префикс
	assert.Equal(t, "e_users", tableOf("Users"))
	assert.Equal(t, `"question_text"`, ident("Question_Text"))
}

func TestDDLCreateEntity(t *testing.T) {
	st, _ := pgStore(t)

	op := migrate.Operation{Kind: migrate.OpCreateEntity, Entity: "Choice", Fields: []schema.Field{
		{Name: "id", Kind: schema.KindString, Required: true, Unique: true, Identity: true},
		{Name: "choice_text", Kind: schema.KindString, MaxLength: 200, Required: true},
		{Name: "votes", Kind: schema.KindInt, Default: "0"},
		{Name: "slug", Kind: schema.KindString, Unique: true},
	}}
	stmts, err := st.ddlStatements(op)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	create := stmts[0]
	assert.Contains(t, create, `create table if not exists "choices"`)
	assert.Contains(t, create, `"id" text primary key`)
	assert.Contains(t, create, `"version" bigint not null`)
	assert.Contains(t, create, `"choice_text" varchar(200) not null`)
	assert.Contains(t, create, `"votes" bigint null default 0`)
	assert.Contains(t, stmts[1], `create unique index if not exists "choices_slug_uq"`)
}

func TestDDLAddRelationship(t *testing.T) {
	st, _ := pgStore(t)

	rel := schema.Relationship{Name: "question", Target: "Question", OnDelete: schema.OnDeleteCascade, Required: true}
	stmts, err := st.ddlStatements(migrate.Operation{
		Kind: migrate.OpAddRelationship, Entity: "Choice", Relationship: &rel,
	})
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, `alter table "choices" add column "question" text not null`, stmts[0])
	assert.Contains(t, stmts[1], `foreign key ("question") references "questions"(id) on delete cascade`)
	assert.Contains(t, stmts[2], `create index if not exists "choices_question_idx"`)
}

func TestDDLAlterFieldUnsupportedOnSQLite(t *testing.T) {
	reg := pollRegistry(t)
	st := &Store{d: SQLite{}, reg: reg}

	f := schema.Field{Name: "votes", Kind: schema.KindFloat}
	_, err := st.ddlStatements(migrate.Operation{Kind: migrate.OpAlterField, Entity: "Choice", Field: &f})
	assert.ErrorContains(t, err, "not supported")

	// sqlite не навешивает FK, но колонку и индекс создаёт
	rel := schema.Relationship{Name: "question", Target: "Question", OnDelete: schema.OnDeleteCascade}
	stmts, err := st.ddlStatements(migrate.Operation{
		Kind: migrate.OpAddRelationship, Entity: "Choice", Relationship: &rel,
	})
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.NotContains(t, stmts[0], "foreign key")
}
