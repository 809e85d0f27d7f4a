package sqlstore

import (
	"fmt"
	"strconv"

	"ladoga/internal/schema"
)

// Dialect — различия между поддерживаемыми СУБД. Остальной SQL общий.
type Dialect interface {
	Name() string
	// Placeholder возвращает плейсхолдер для n-го аргумента (с единицы).
	Placeholder(n int) string
	// ColumnType — тип колонки для поля схемы.
	ColumnType(f schema.Field) string
	// UpsertLedger — insert-or-replace строки леджера с 7 плейсхолдерами:
	// seq, base_hash, target_hash, operations, applied_ops, applied_at, failed.
	UpsertLedger(table string) string
	// SupportsAlterColumn — умеет ли СУБД менять тип/ограничения колонки.
	SupportsAlterColumn() bool
	// SupportsAddFK — можно ли навесить FOREIGN KEY на существующую таблицу.
	SupportsAddFK() bool
}

// Postgres — диалект для pgx/stdlib.
type Postgres struct{}

func (Postgres) Name() string              { return "postgres" }
func (Postgres) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }
func (Postgres) SupportsAlterColumn() bool { return true }
func (Postgres) SupportsAddFK() bool       { return true }

func (Postgres) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.KindString, schema.KindEnum:
		if f.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", f.MaxLength)
		}
		return "text"
	case schema.KindInt:
		return "bigint"
	case schema.KindFloat:
		return "double precision"
	case schema.KindBool:
		return "boolean"
	case schema.KindDate:
		return "date"
	case schema.KindDateTime:
		return "timestamp with time zone"
	}
	return "text"
}

func (Postgres) UpsertLedger(table string) string {
	return fmt.Sprintf(`insert into %s (seq, base_hash, target_hash, operations, applied_ops, applied_at, failed)
values ($1, $2, $3, $4, $5, $6, $7)
on conflict (seq) do update set
  base_hash = excluded.base_hash,
  target_hash = excluded.target_hash,
  operations = excluded.operations,
  applied_ops = excluded.applied_ops,
  applied_at = excluded.applied_at,
  failed = excluded.failed`, ident(table))
}

// SQLite — диалект для modernc.org/sqlite (pure Go, без cgo).
// ALTER COLUMN и добавление FK задним числом SQLite не умеет:
// alter_field возвращает ошибку, ссылки живут обычными text-колонками
// без констрейнта (политики on-delete отрабатывает движок).
type SQLite struct{}

func (SQLite) Name() string              { return "sqlite" }
func (SQLite) Placeholder(int) string    { return "?" }
func (SQLite) SupportsAlterColumn() bool { return false }
func (SQLite) SupportsAddFK() bool       { return false }

func (SQLite) ColumnType(f schema.Field) string {
	switch f.Kind {
	case schema.KindInt:
		return "integer"
	case schema.KindFloat:
		return "real"
	case schema.KindBool:
		return "integer"
	case schema.KindDate, schema.KindDateTime:
		return "text"
	}
	return "text"
}

func (SQLite) UpsertLedger(table string) string {
	return fmt.Sprintf(`insert or replace into %s (seq, base_hash, target_hash, operations, applied_ops, applied_at, failed)
values (?, ?, ?, ?, ?, ?, ?)`, ident(table))
}
