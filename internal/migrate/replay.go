package migrate

import "ladoga/internal/schema"

// Replay восстанавливает снапшот схемы, проигрывая применённые записи
// леджера над пустым снапшотом. Так движок получает «последнее применённое»
// состояние для диффа, не храня снапшоты целиком.
// Частично применённые и проваленные записи пропускаются: их состояние
// переходное и базой для нового диффа служить не может.
func Replay(records []Record) schema.Snapshot {
	var entities []schema.Entity
	idx := func(name string) int {
		for i := range entities {
			if entities[i].Name == name {
				return i
			}
		}
		return -1
	}

	for _, rec := range records {
		if !rec.Applied() {
			continue
		}
		for _, op := range rec.Ops {
			switch op.Kind {
			case OpCreateEntity:
				entities = append(entities, schema.Entity{
					Name:   op.Entity,
					Fields: append([]schema.Field(nil), op.Fields...),
				})
			case OpDropEntity:
				if i := idx(op.Entity); i >= 0 {
					entities = append(entities[:i], entities[i+1:]...)
				}
			case OpAddField:
				if i := idx(op.Entity); i >= 0 {
					entities[i].Fields = append(entities[i].Fields, *op.Field)
				}
			case OpDropField:
				if i := idx(op.Entity); i >= 0 {
					e := &entities[i]
					kept := e.Fields[:0]
					for _, f := range e.Fields {
						if f.Name != op.FieldName {
							kept = append(kept, f)
						}
					}
					e.Fields = kept
				}
			case OpAlterField:
				if i := idx(op.Entity); i >= 0 {
					for j := range entities[i].Fields {
						if entities[i].Fields[j].Name == op.Field.Name {
							entities[i].Fields[j] = *op.Field
							break
						}
					}
				}
			case OpAddRelationship:
				if i := idx(op.Entity); i >= 0 {
					entities[i].Relationships = append(entities[i].Relationships, *op.Relationship)
				}
			case OpDropRelationship:
				if i := idx(op.Entity); i >= 0 {
					e := &entities[i]
					kept := e.Relationships[:0]
					for _, r := range e.Relationships {
						if r.Name != op.RelName {
							kept = append(kept, r)
						}
					}
					e.Relationships = kept
				}
			}
		}
	}
	return schema.Snapshot{Entities: entities}
}
