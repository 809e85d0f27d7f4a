package migrate

import (
	"reflect"

	"ladoga/internal/schema"
)

// Diff сравнивает два снапшота схемы и возвращает упорядоченный список операций,
// переводящий old в new. Никогда не падает: одинаковые снапшоты дают пустой
// список, пустой old — только операции создания.
//
// Порядок в результате фиксирован и безопасен по зависимостям:
//  1. drop_relationship — ссылки снимаются раньше всего;
//  2. drop_field;
//  3. drop_entity — в обратном порядке зависимостей (ссылающаяся сущность
//     удаляется раньше своей цели);
//  4. create_entity — в порядке зависимостей (цель ссылки раньше ссылающейся);
//  5. add_field;
//  6. alter_field;
//  7. add_relationship — после того как созданы обе стороны.
//
// Переименование поля неотличимо от drop+add без внешней подсказки, и эти
// операции теряют данные. Движок не угадывает: это задокументированное
// ограничение именного диффа, а не эвристика.
func Diff(old, new schema.Snapshot) []Operation {
	oldIdx := indexEntities(old)
	newIdx := indexEntities(new)

	var added, removed, common []string
	for _, e := range new.Entities {
		if _, ok := oldIdx[e.Name]; ok {
			common = append(common, e.Name)
		} else {
			added = append(added, e.Name)
		}
	}
	for _, e := range old.Entities {
		if _, ok := newIdx[e.Name]; !ok {
			removed = append(removed, e.Name)
		}
	}

	var ops []Operation

	// --- drops ---

	// ссылки удалённых сущностей и ссылки, исчезнувшие или изменившиеся у общих
	removedSet := map[string]struct{}{}
	for _, n := range removed {
		removedSet[n] = struct{}{}
	}
	for _, e := range old.Entities {
		if _, gone := removedSet[e.Name]; gone {
			for _, rel := range e.Relationships {
				ops = append(ops, Operation{Kind: OpDropRelationship, Entity: e.Name, RelName: rel.Name})
			}
		}
	}
	for _, name := range common {
		oldEnt := oldIdx[name]
		newEnt := newIdx[name]
		for _, rel := range oldEnt.Relationships {
			cur, ok := newEnt.Relationship(rel.Name)
			if !ok || relChanged(rel, cur) {
				ops = append(ops, Operation{Kind: OpDropRelationship, Entity: name, RelName: rel.Name})
			}
		}
	}

	// поля, исчезнувшие у общих сущностей
	for _, name := range common {
		oldEnt := oldIdx[name]
		newEnt := newIdx[name]
		for _, f := range oldEnt.Fields {
			if _, ok := newEnt.Field(f.Name); !ok {
				ops = append(ops, Operation{Kind: OpDropField, Entity: name, FieldName: f.Name})
			}
		}
	}

	// сущности: ссылающиеся раньше целей
	for _, name := range topoOrder(removed, old, false) {
		ops = append(ops, Operation{Kind: OpDropEntity, Entity: name})
	}

	// --- creates / changes ---

	// новые сущности: цели ссылок раньше ссылающихся
	for _, name := range topoOrder(added, new, true) {
		e := newIdx[name]
		ops = append(ops, Operation{Kind: OpCreateEntity, Entity: name, Fields: append([]schema.Field(nil), e.Fields...)})
	}

	for _, name := range common {
		oldEnt := oldIdx[name]
		newEnt := newIdx[name]
		for _, f := range newEnt.Fields {
			prev, ok := oldEnt.Field(f.Name)
			if !ok {
				fc := f
				ops = append(ops, Operation{Kind: OpAddField, Entity: name, Field: &fc})
			} else if !reflect.DeepEqual(prev, f) {
				fc := f
				ops = append(ops, Operation{Kind: OpAlterField, Entity: name, Field: &fc})
			}
		}
	}

	// ссылки: у новых сущностей все, у общих — новые и изменившиеся
	for _, e := range new.Entities {
		isNew := false
		for _, n := range added {
			if n == e.Name {
				isNew = true
				break
			}
		}
		for _, rel := range e.Relationships {
			if !isNew {
				prev, ok := oldIdx[e.Name].Relationship(rel.Name)
				if ok && !relChanged(prev, rel) {
					continue
				}
			}
			rc := rel
			ops = append(ops, Operation{Kind: OpAddRelationship, Entity: e.Name, Relationship: &rc})
		}
	}

	return ops
}

func indexEntities(s schema.Snapshot) map[string]*schema.Entity {
	idx := make(map[string]*schema.Entity, len(s.Entities))
	for i := range s.Entities {
		idx[s.Entities[i].Name] = &s.Entities[i]
	}
	return idx
}

func relChanged(a, b schema.Relationship) bool { return a != b }

// topoOrder упорядочивает names по графу ссылок снапшота.
// createOrder=true: цель ссылки раньше ссылающейся сущности (порядок создания);
// false: наоборот (порядок удаления). Стабильно относительно исходного порядка.
// Циклы ссылок допустимы: застрявшие вершины добавляются в исходном порядке —
// это безопасно, потому что add_relationship всегда позже всех create_entity,
// а drop_relationship раньше всех drop_entity.
func topoOrder(names []string, snap schema.Snapshot, createOrder bool) []string {
	inSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		inSet[n] = struct{}{}
	}

	// edges[x] -> вершины, которые должны идти после x
	edges := make(map[string][]string)
	indeg := make(map[string]int, len(names))
	for _, n := range names {
		indeg[n] = 0
	}
	for _, n := range names {
		e, _ := snap.Entity(n)
		for _, rel := range e.Relationships {
			if _, ok := inSet[rel.Target]; !ok || rel.Target == n {
				continue
			}
			if createOrder {
				// target раньше n
				edges[rel.Target] = append(edges[rel.Target], n)
				indeg[n]++
			} else {
				// n (ссылающаяся) раньше target
				edges[n] = append(edges[n], rel.Target)
				indeg[rel.Target]++
			}
		}
	}

	out := make([]string, 0, len(names))
	done := make(map[string]struct{}, len(names))
	for len(out) < len(names) {
		picked := ""
		for _, n := range names {
			if _, ok := done[n]; ok {
				continue
			}
			if indeg[n] == 0 {
				picked = n
				break
			}
		}
		if picked == "" {
			// цикл — добиваем в исходном порядке
			for _, n := range names {
				if _, ok := done[n]; !ok {
					out = append(out, n)
					done[n] = struct{}{}
				}
			}
			break
		}
		out = append(out, picked)
		done[picked] = struct{}{}
		for _, next := range edges[picked] {
			indeg[next]--
		}
	}
	return out
}
