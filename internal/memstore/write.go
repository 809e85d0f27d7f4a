package memstore

import (
	"context"
	"fmt"
	"time"

	"ladoga/internal/query"
	"ladoga/internal/schema"
)

// Insert создаёт запись: id назначается здесь (ULID), отсутствующие поля
// получают default из дескриптора.
func (s *Store) Insert(ctx context.Context, entity string, values map[string]any) (query.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(values))
	for k, v := range values {
		data[k] = v
	}
	for _, f := range e.Fields {
		if f.Identity {
			continue
		}
		if _, ok := data[f.Name]; ok || f.Default == "" {
			continue
		}
		v, err := f.DefaultValue()
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entity, f.Name, err)
		}
		data[f.Name] = v
	}

	now := time.Now().UTC()
	rec := &record{
		ID:        s.newID(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      data,
	}
	s.data[entity][rec.ID] = rec
	return flatten(rec), nil
}

// Update применяет обычные присваивания и атомики. Атомики читают текущее
// значение здесь, под write-lock хранилища: вызывающий процесс старого
// значения не видит, конкурентные инкременты не теряются.
func (s *Store) Update(ctx context.Context, entity, id string, sets map[string]any, atomics []query.Atomic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.entity(entity); err != nil {
		return err
	}
	rec := s.data[entity][id]
	if rec == nil {
		return fmt.Errorf("%w: %s %s", query.ErrNotFound, entity, id)
	}

	for k, v := range sets {
		rec.Data[k] = v
	}
	for _, a := range atomics {
		switch a.Kind {
		case query.AtomicInc, query.AtomicDec:
			delta := a.By
			if a.Kind == query.AtomicDec {
				delta = -delta
			}
			cur := rec.Data[a.Field]
			if f, ok := cur.(float64); ok {
				rec.Data[a.Field] = f + float64(delta)
				break
			}
			n, _ := toInt(cur)
			rec.Data[a.Field] = n + delta
		case query.AtomicSetField:
			rec.Data[a.Field] = rec.Data[a.From]
		default:
			return fmt.Errorf("unknown atomic kind %q", a.Kind)
		}
	}

	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete удаляет запись, отрабатывая политики входящих ссылок:
// restrict запрещает удаление, cascade удаляет зависимые записи,
// set_null обнуляет ссылку.
func (s *Store) Delete(ctx context.Context, entity, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.entity(entity); err != nil {
		return err
	}
	if s.data[entity][id] == nil {
		return fmt.Errorf("%w: %s %s", query.ErrNotFound, entity, id)
	}
	return s.deleteLocked(entity, id, map[string]struct{}{})
}

func (s *Store) deleteLocked(entity, id string, visited map[string]struct{}) error {
	key := entity + "/" + id
	if _, ok := visited[key]; ok {
		return nil
	}
	visited[key] = struct{}{}

	for _, refName := range s.order {
		refEnt := s.entities[refName]
		for _, rel := range refEnt.Relationships {
			if rel.Target != entity {
				continue
			}
			for refID, rec := range s.data[refName] {
				if v, _ := rec.Data[rel.Name].(string); v != id {
					continue
				}
				switch rel.OnDelete {
				case schema.OnDeleteRestrict:
					return fmt.Errorf("delete %s %s: restricted by %s.%s", entity, id, refName, rel.Name)
				case schema.OnDeleteSetNull:
					rec.Data[rel.Name] = nil
				case schema.OnDeleteCascade:
					if err := s.deleteLocked(refName, refID, visited); err != nil {
						return err
					}
				}
			}
		}
	}
	delete(s.data[entity], id)
	return nil
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}
