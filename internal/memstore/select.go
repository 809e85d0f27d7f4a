package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"ladoga/internal/query"
	"ladoga/internal/schema"
)

// Select исполняет выражение: фильтры (включая join-пути и обратные ссылки),
// сортировка, срез. Поведение nulls — в конец, как в listing-API.
func (s *Store) Select(ctx context.Context, x query.Expr) ([]query.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.selectLocked(x)
	if err != nil {
		return nil, err
	}
	out := make([]query.Row, 0, len(recs))
	for _, rec := range recs {
		out = append(out, flatten(rec))
	}
	return out, nil
}

// Count считает подходящие записи без материализации строк наружу.
func (s *Store) Count(ctx context.Context, x query.Expr) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.selectLocked(x)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (s *Store) selectLocked(x query.Expr) ([]*record, error) {
	if _, err := s.entity(x.Entity); err != nil {
		return nil, err
	}

	var recs []*record
	for _, rec := range s.data[x.Entity] {
		ok := true
		for _, c := range x.Conds {
			match, err := s.evalCond(x.Entity, rec, c)
			if err != nil {
				return nil, err
			}
			if !match {
				ok = false
				break
			}
		}
		if ok {
			recs = append(recs, rec)
		}
	}

	s.sortRecords(x.Entity, recs, x.Orders)

	// стабильность среза при отсутствии сортировки: map не даёт порядка
	if len(x.Orders) == 0 {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	}

	start := x.Offset
	if start > len(recs) {
		start = len(recs)
	}
	end := len(recs)
	if x.Limit >= 0 && start+x.Limit < end {
		end = start + x.Limit
	}
	return recs[start:end], nil
}

func (s *Store) evalCond(entity string, rec *record, c query.Cond) (bool, error) {
	// Traverse: id корня должен войти в выборку SourceCol из источника
	if c.Source != nil {
		srcRecs, err := s.selectLocked(*c.Source)
		if err != nil {
			return false, err
		}
		hit := false
		for _, sr := range srcRecs {
			if id, _ := sr.Data[c.SourceCol].(string); id == rec.ID {
				hit = true
				break
			}
		}
		return hit != c.Negate, nil
	}

	// обратная ссылка: any / all по связанным записям
	if c.Reverse != nil {
		inner := query.Cond{Path: c.Path, Op: c.Op, Value: c.Value}
		hit := !c.Reverse.All // any: стартуем с false, all: с true (пустое множество проходит)
		for _, related := range s.data[c.Reverse.Entity] {
			if id, _ := related.Data[c.Reverse.Via].(string); id != rec.ID {
				continue
			}
			match, err := s.evalCond(c.Reverse.Entity, related, inner)
			if err != nil {
				return false, err
			}
			if c.Reverse.All {
				if !match {
					hit = false
					break
				}
			} else if match {
				hit = true
				break
			}
		}
		return hit != c.Negate, nil
	}

	v, present := s.pathValue(entity, rec, c.Path)
	return matchOp(v, present, c.Op, c.Value) != c.Negate, nil
}

// pathValue идёт по many-to-one ссылкам до последнего сегмента.
// Оборванный путь (null-ссылка, нет целевой записи) — значения нет.
func (s *Store) pathValue(entity string, rec *record, path []string) (any, bool) {
	cur := rec
	curEnt := entity
	for i, seg := range path {
		e, ok := s.entities[curEnt]
		if !ok {
			return nil, false
		}
		if rel, relOK := e.Relationship(seg); relOK && i < len(path)-1 {
			id, _ := cur.Data[seg].(string)
			if id == "" {
				return nil, false
			}
			next := s.data[rel.Target][id]
			if next == nil {
				return nil, false
			}
			cur = next
			curEnt = rel.Target
			continue
		}
		// последний сегмент
		switch seg {
		case schema.IdentityField:
			return cur.ID, true
		case "version":
			return cur.Version, true
		case "created_at":
			return cur.CreatedAt, true
		case "updated_at":
			return cur.UpdatedAt, true
		}
		v, ok := cur.Data[seg]
		return v, ok && v != nil
	}
	return nil, false
}

func matchOp(v any, present bool, op query.Op, want any) bool {
	if op == query.OpIsNull {
		wantNull, _ := want.(bool)
		return (!present || v == nil) == wantNull
	}
	if !present || v == nil {
		return false
	}
	switch op {
	case query.OpEq:
		return compareValues(v, want) == 0
	case query.OpLt:
		return compareValues(v, want) < 0
	case query.OpLte:
		return compareValues(v, want) <= 0
	case query.OpGt:
		return compareValues(v, want) > 0
	case query.OpGte:
		return compareValues(v, want) >= 0
	case query.OpStartsWith:
		return strings.HasPrefix(toString(v), toString(want))
	case query.OpContains:
		return strings.Contains(toString(v), toString(want))
	case query.OpIn:
		rv := reflect.ValueOf(want)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return compareValues(v, want) == 0
		}
		for i := 0; i < rv.Len(); i++ {
			if compareValues(v, rv.Index(i).Interface()) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// compareValues сравнивает с приведением типов: числа как числа,
// времена как времена, остальное — по строковому представлению.
func compareValues(a, b any) int {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, okA := a.(time.Time); okA {
		if tb, okB := b.(time.Time); okB {
			return ta.Compare(tb)
		}
	}
	sa, sb := toString(a), toString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// sortRecords — мультисортировка по ключам выражения; null всегда в конец,
// независимо от направления.
func (s *Store) sortRecords(entity string, recs []*record, orders []query.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, o := range orders {
			va, okA := s.pathValue(entity, recs[i], o.Path)
			vb, okB := s.pathValue(entity, recs[j], o.Path)
			na := !okA || va == nil
			nb := !okB || vb == nil
			if na || nb {
				if na == nb {
					continue
				}
				return nb // не-null раньше null
			}
			c := compareValues(va, vb)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func flatten(rec *record) query.Row {
	out := query.Row{
		"id":         rec.ID,
		"version":    rec.Version,
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
	}
	for k, v := range rec.Data {
		if _, clash := out[k]; clash {
			continue
		}
		out[k] = v
	}
	return out
}
