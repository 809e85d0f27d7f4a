package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ladoga/internal/query"
	"ladoga/internal/schema"
)

// Select исполняет скомпилированное выражение и возвращает типизированные строки.
func (s *Store) Select(ctx context.Context, x query.Expr) ([]query.Row, error) {
	reg := s.registryFor(x)
	ent, err := reg.Resolve(x.Entity)
	if err != nil {
		return nil, err
	}
	sqlText, args, err := s.CompileSelect(x)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", x.Entity, err)
	}
	defer rows.Close()

	cols := columnNames(ent)
	kinds := columnKinds(ent, cols)

	var out []query.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(query.Row, len(cols))
		for i, col := range cols {
			row[col] = convertValue(kinds[i], raw[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count считает записи на стороне СУБД, строки не тянет.
func (s *Store) Count(ctx context.Context, x query.Expr) (int64, error) {
	sqlText, args, err := s.CompileCount(x)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", x.Entity, err)
	}
	return n, nil
}

// Insert создаёт запись: ULID-идентификатор, системные колонки, default'ы
// отсутствующих полей из схемы.
func (s *Store) Insert(ctx context.Context, entity string, values map[string]any) (query.Row, error) {
	ent, err := s.reg.Resolve(entity)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := query.Row{
		schema.IdentityField: s.newID(),
		"version":            int64(1),
		"created_at":         now,
		"updated_at":         now,
	}
	for k, v := range values {
		row[k] = v
	}
	for _, f := range ent.Fields {
		if f.Identity {
			continue
		}
		if _, ok := row[f.Name]; ok || f.Default == "" {
			continue
		}
		v, err := f.DefaultValue()
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entity, f.Name, err)
		}
		row[f.Name] = v
	}

	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	colSQL := make([]string, len(cols))
	phs := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		colSQL[i] = ident(col)
		phs[i] = s.d.Placeholder(i + 1)
		args[i] = bindValue(row[col])
	}
	stmt := fmt.Sprintf("insert into %s (%s) values (%s)",
		ident(tableOf(entity)), strings.Join(colSQL, ", "), strings.Join(phs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", entity, err)
	}
	return row, nil
}

// Update — одна UPDATE-операция: обычные присваивания плюс атомики,
// вычисляемые внутри этого же statement'а. Текущее значение поля процесс
// не читает, поэтому конкурентные инкременты складываются, а не теряются.
func (s *Store) Update(ctx context.Context, entity, id string, sets map[string]any, atomics []query.Atomic) error {
	if _, err := s.reg.Resolve(entity); err != nil {
		return err
	}

	var assigns []string
	var args []any
	ph := func(v any) string {
		args = append(args, v)
		return s.d.Placeholder(len(args))
	}

	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		assigns = append(assigns, ident(k)+" = "+ph(bindValue(sets[k])))
	}
	for _, a := range atomics {
		col := ident(a.Field)
		switch a.Kind {
		case query.AtomicInc:
			assigns = append(assigns, fmt.Sprintf("%s = coalesce(%s, 0) + %s", col, col, ph(a.By)))
		case query.AtomicDec:
			assigns = append(assigns, fmt.Sprintf("%s = coalesce(%s, 0) - %s", col, col, ph(a.By)))
		case query.AtomicSetField:
			assigns = append(assigns, fmt.Sprintf("%s = %s", col, ident(a.From)))
		default:
			return fmt.Errorf("unknown atomic kind %q", a.Kind)
		}
	}
	assigns = append(assigns, `"version" = "version" + 1`)
	assigns = append(assigns, `"updated_at" = `+ph(time.Now().UTC()))

	stmt := fmt.Sprintf("update %s set %s where %s = %s",
		ident(tableOf(entity)), strings.Join(assigns, ", "),
		ident(schema.IdentityField), ph(id))
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", query.ErrNotFound, entity, id)
	}
	return nil
}

// Delete удаляет запись; политики on-delete отрабатывают FK-констрейнты СУБД.
func (s *Store) Delete(ctx context.Context, entity, id string) error {
	if _, err := s.reg.Resolve(entity); err != nil {
		return err
	}
	stmt := fmt.Sprintf("delete from %s where %s = %s",
		ident(tableOf(entity)), ident(schema.IdentityField), s.d.Placeholder(1))
	res, err := s.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", entity, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", query.ErrNotFound, entity, id)
	}
	return nil
}

// columnKinds сопоставляет колонкам выборки типы схемы; системные и
// ссылочные колонки получают фиксированные типы.
func columnKinds(ent *schema.Entity, cols []string) []schema.FieldKind {
	kinds := make([]schema.FieldKind, len(cols))
	for i, col := range cols {
		switch col {
		case schema.IdentityField:
			kinds[i] = schema.KindString
		case "version":
			kinds[i] = schema.KindInt
		case "created_at", "updated_at":
			kinds[i] = schema.KindDateTime
		default:
			if f, ok := ent.Field(col); ok {
				kinds[i] = f.Kind
			} else {
				kinds[i] = schema.KindString // ссылка: id цели
			}
		}
	}
	return kinds
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// convertValue приводит значение драйвера к типу движка по виду поля.
// pgx отдаёт time.Time/int64/bool нативно, sqlite — строки и целые.
func convertValue(kind schema.FieldKind, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch kind {
	case schema.KindDate, schema.KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
		if s, ok := v.(string); ok {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC()
				}
			}
		}
	case schema.KindBool:
		if b, ok := v.(bool); ok {
			return b
		}
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case schema.KindFloat:
		if f, ok := v.(float64); ok {
			return f
		}
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}

// bindValue нормализует аргумент перед передачей драйверу.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}
