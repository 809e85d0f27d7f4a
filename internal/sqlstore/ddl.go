package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"ladoga/internal/migrate"
	"ladoga/internal/schema"

	"github.com/jackc/pgx/v5/pgconn"
)

// ExecDDL применяет одну структурную операцию. Дубликаты объектов
// (duplicate_object 42710, "already exists") считаются уже применёнными
// и пропускаются: так повторный прогон идемпотентного плана не падает.
func (s *Store) ExecDDL(ctx context.Context, op migrate.Operation) error {
	stmts, err := s.ddlStatements(op)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := s.execTolerant(ctx, s.db, stmt); err != nil {
			return fmt.Errorf("apply %s: %w", op, err)
		}
	}
	return nil
}

// ExecDDLBatch применяет партию операций одной транзакцией: либо вся запись
// леджера, либо ничего. Реализует migrate.TxStore.
func (s *Store) ExecDDLBatch(ctx context.Context, ops []migrate.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, op := range ops {
		stmts, err := s.ddlStatements(op)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if err := s.execTolerant(ctx, tx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", op, err)
			}
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execTolerant(ctx context.Context, db execer, stmt string) error {
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" {
			log.Printf("DDL skipped (already exists): %s", strings.TrimSpace(pgErr.Message))
			return nil
		}
		e := strings.ToLower(err.Error())
		if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
			log.Printf("DDL skipped (already exists): %v", err)
			return nil
		}
		return err
	}
	return nil
}

// ddlStatements переводит операцию в SQL текущего диалекта.
func (s *Store) ddlStatements(op migrate.Operation) ([]string, error) {
	tbl := ident(tableOf(op.Entity))

	switch op.Kind {
	case migrate.OpCreateEntity:
		cols := []string{
			`"id" text primary key`,
			`"version" bigint not null`,
			`"created_at" ` + s.d.ColumnType(schema.Field{Kind: schema.KindDateTime}) + ` not null`,
			`"updated_at" ` + s.d.ColumnType(schema.Field{Kind: schema.KindDateTime}) + ` not null`,
		}
		var extra []string
		for _, f := range op.Fields {
			if f.Identity {
				continue
			}
			cols = append(cols, s.columnDef(f))
			if f.Unique {
				extra = append(extra, fmt.Sprintf("create unique index if not exists %s on %s(%s)",
					ident(tableOf(op.Entity)+"_"+f.Name+"_uq"), tbl, ident(f.Name)))
			}
		}
		create := fmt.Sprintf("create table if not exists %s (\n  %s\n)", tbl, strings.Join(cols, ",\n  "))
		return append([]string{create}, extra...), nil

	case migrate.OpDropEntity:
		return []string{fmt.Sprintf("drop table if exists %s", tbl)}, nil

	case migrate.OpAddField:
		stmts := []string{fmt.Sprintf("alter table %s add column %s", tbl, s.columnDef(*op.Field))}
		if op.Field.Unique {
			stmts = append(stmts, fmt.Sprintf("create unique index if not exists %s on %s(%s)",
				ident(tableOf(op.Entity)+"_"+op.Field.Name+"_uq"), tbl, ident(op.Field.Name)))
		}
		return stmts, nil

	case migrate.OpDropField:
		return []string{fmt.Sprintf("alter table %s drop column %s", tbl, ident(op.FieldName))}, nil

	case migrate.OpAlterField:
		if !s.d.SupportsAlterColumn() {
			return nil, fmt.Errorf("alter_field is not supported by the %s dialect", s.d.Name())
		}
		f := *op.Field
		col := ident(f.Name)
		stmts := []string{
			fmt.Sprintf("alter table %s alter column %s type %s using %s::%s",
				tbl, col, s.d.ColumnType(f), col, s.d.ColumnType(f)),
		}
		if f.Required {
			stmts = append(stmts, fmt.Sprintf("alter table %s alter column %s set not null", tbl, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("alter table %s alter column %s drop not null", tbl, col))
		}
		if f.Default != "" {
			stmts = append(stmts, fmt.Sprintf("alter table %s alter column %s set default %s", tbl, col, defaultLiteral(f)))
		} else {
			stmts = append(stmts, fmt.Sprintf("alter table %s alter column %s drop default", tbl, col))
		}
		return stmts, nil

	case migrate.OpAddRelationship:
		rel := *op.Relationship
		null := "null"
		// sqlite не умеет add column not null без default — там колонка nullable,
		// обязательность ссылки следит движок
		if rel.Required && s.d.SupportsAddFK() {
			null = "not null"
		}
		stmts := []string{fmt.Sprintf("alter table %s add column %s text %s", tbl, ident(rel.Name), null)}
		if s.d.SupportsAddFK() {
			stmts = append(stmts, fmt.Sprintf(
				"alter table %s add constraint %s foreign key (%s) references %s(id) on delete %s",
				tbl, ident(tableOf(op.Entity)+"_"+rel.Name+"_fk"), ident(rel.Name),
				ident(tableOf(rel.Target)), onDeleteSQL(rel.OnDelete)))
		}
		stmts = append(stmts, fmt.Sprintf("create index if not exists %s on %s(%s)",
			ident(tableOf(op.Entity)+"_"+rel.Name+"_idx"), tbl, ident(rel.Name)))
		return stmts, nil

	case migrate.OpDropRelationship:
		var stmts []string
		if s.d.SupportsAddFK() {
			stmts = append(stmts, fmt.Sprintf("alter table %s drop constraint if exists %s",
				tbl, ident(tableOf(op.Entity)+"_"+op.RelName+"_fk")))
		}
		stmts = append(stmts, fmt.Sprintf("alter table %s drop column %s", tbl, ident(op.RelName)))
		return stmts, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
}

func (s *Store) columnDef(f schema.Field) string {
	null := "null"
	if f.Required {
		null = "not null"
	}
	def := ""
	if f.Default != "" {
		def = " default " + defaultLiteral(f)
	}
	return fmt.Sprintf("%s %s %s%s", ident(f.Name), s.d.ColumnType(f), null, def)
}

// defaultLiteral — default как SQL-литерал: числа и bool без кавычек.
func defaultLiteral(f schema.Field) string {
	switch f.Kind {
	case schema.KindInt, schema.KindFloat, schema.KindBool:
		return f.Default
	}
	return "'" + strings.ReplaceAll(f.Default, "'", "''") + "'"
}

func onDeleteSQL(p schema.OnDelete) string {
	switch p {
	case schema.OnDeleteCascade:
		return "cascade"
	case schema.OnDeleteSetNull:
		return "set null"
	default:
		return "restrict"
	}
}
