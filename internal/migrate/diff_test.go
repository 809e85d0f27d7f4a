package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladoga/internal/schema"
)

func pollSnapshot() schema.Snapshot {
	return schema.Snapshot{Entities: []schema.Entity{
		{
			Name: "Choice",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindString, Required: true, Unique: true, Identity: true},
				{Name: "choice_text", Kind: schema.KindString, MaxLength: 200},
				{Name: "votes", Kind: schema.KindInt, Default: "0"},
			},
			Relationships: []schema.Relationship{
				{Name: "question", Target: "Question", OnDelete: schema.OnDeleteCascade, Required: true},
			},
		},
		{
			Name: "Question",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindString, Required: true, Unique: true, Identity: true},
				{Name: "question_text", Kind: schema.KindString, MaxLength: 200},
			},
		},
	}}
}

func kinds(ops []Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.String())
	}
	return out
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	snap := pollSnapshot()
	assert.Empty(t, Diff(snap, snap))
	assert.Empty(t, Diff(schema.EmptySnapshot(), schema.EmptySnapshot()))
}

func TestDiffFromEmptyOrdersCreatesBeforeRelationships(t *testing.T) {
	ops := Diff(schema.EmptySnapshot(), pollSnapshot())

	// Question создаётся раньше Choice, хотя Choice объявлен первым:
	// цель ссылки должна существовать до ссылающейся стороны
	assert.Equal(t, []string{
		"create_entity Question",
		"create_entity Choice",
		"add_relationship Choice.question -> Question",
	}, kinds(ops))

	// create_entity несёт поля, но не ссылки
	assert.Len(t, ops[1].Fields, 3)
	assert.Nil(t, ops[1].Relationship)
}

func TestDiffDropOrdersReferencingFirst(t *testing.T) {
	ops := Diff(pollSnapshot(), schema.EmptySnapshot())

	assert.Equal(t, []string{
		"drop_relationship Choice.question",
		"drop_entity Choice",
		"drop_entity Question",
	}, kinds(ops))
}

func TestDiffAddAndAlterField(t *testing.T) {
	old := pollSnapshot()
	new := pollSnapshot()
	// расширяем question_text и добавляем pub_date
	for i := range new.Entities {
		if new.Entities[i].Name != "Question" {
			continue
		}
		new.Entities[i].Fields[1].MaxLength = 500
		new.Entities[i].Fields = append(new.Entities[i].Fields,
			schema.Field{Name: "pub_date", Kind: schema.KindDateTime, Required: true})
	}

	ops := Diff(old, new)
	assert.Equal(t, []string{
		"add_field Question.pub_date",
		"alter_field Question.question_text",
	}, kinds(ops))
	assert.Equal(t, 500, ops[1].Field.MaxLength)
}

func TestDiffRenameIsDropPlusAdd(t *testing.T) {
	old := pollSnapshot()
	new := pollSnapshot()
	for i := range new.Entities {
		if new.Entities[i].Name == "Choice" {
			new.Entities[i].Fields[1].Name = "label"
		}
	}

	ops := Diff(old, new)
	assert.Equal(t, []string{
		"drop_field Choice.choice_text",
		"add_field Choice.label",
	}, kinds(ops))
}

func TestDiffRelationshipPolicyChange(t *testing.T) {
	old := pollSnapshot()
	new := pollSnapshot()
	new.Entities[0].Relationships[0].OnDelete = schema.OnDeleteRestrict

	ops := Diff(old, new)
	assert.Equal(t, []string{
		"drop_relationship Choice.question",
		"add_relationship Choice.question -> Question",
	}, kinds(ops))
}

func TestDiffCyclicReferencesStillOrdered(t *testing.T) {
	// A→B и B→A: create_entity обеих допустим в любом порядке,
	// ссылки всегда в хвосте
	snap := schema.Snapshot{Entities: []schema.Entity{
		{Name: "A", Relationships: []schema.Relationship{{Name: "b", Target: "B", OnDelete: schema.OnDeleteSetNull}}},
		{Name: "B", Relationships: []schema.Relationship{{Name: "a", Target: "A", OnDelete: schema.OnDeleteSetNull}}},
	}}
	ops := Diff(schema.EmptySnapshot(), snap)
	require.Len(t, ops, 4)
	assert.Equal(t, OpCreateEntity, ops[0].Kind)
	assert.Equal(t, OpCreateEntity, ops[1].Kind)
	assert.Equal(t, OpAddRelationship, ops[2].Kind)
	assert.Equal(t, OpAddRelationship, ops[3].Kind)
}

func TestReplayRebuildsAppliedState(t *testing.T) {
	target := pollSnapshot()
	ops := Diff(schema.EmptySnapshot(), target)

	now := nowUTC()
	applied := Record{Seq: 1, Ops: ops, AppliedOps: len(ops), AppliedAt: &now}
	pending := Record{Seq: 2, Ops: []Operation{{Kind: OpDropEntity, Entity: "Choice"}}}

	snap := Replay([]Record{applied, pending})
	// pending-запись не влияет на восстановленное состояние
	assert.Equal(t, target.Hash(), snap.Hash())
}

func TestMarshalOpsRoundTrip(t *testing.T) {
	ops := Diff(schema.EmptySnapshot(), pollSnapshot())
	data, err := MarshalOps(ops)
	require.NoError(t, err)
	back, err := UnmarshalOps(data)
	require.NoError(t, err)
	assert.Equal(t, ops, back)
}
