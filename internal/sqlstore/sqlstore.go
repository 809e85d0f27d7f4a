// Package sqlstore — реляционное хранилище поверх database/sql.
// Поддержаны postgres (драйвер pgx/stdlib) и sqlite (modernc, pure Go).
// Реализует query.Backend и migrate.Store; партии DDL применяет одной
// транзакцией (migrate.TxStore).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"time"

	"ladoga/internal/migrate"
	"ladoga/internal/schema"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // driver: sqlite
)

// DefaultLedgerTable — таблица записей миграций.
const DefaultLedgerTable = "ladoga_migrations"

type Store struct {
	db          *sql.DB
	d           Dialect
	reg         *schema.Registry
	ledgerTable string
	entropy     io.Reader
}

// Open подключается к postgres и готовит таблицу леджера.
func Open(ctx context.Context, url string, reg *schema.Registry) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return newStore(ctx, db, Postgres{}, reg)
}

// OpenSQLite открывает файл (или ":memory:") через modernc.org/sqlite.
func OpenSQLite(ctx context.Context, path string, reg *schema.Registry) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// одна запись за раз: файл sqlite не любит конкурентные writer'ы
	db.SetMaxOpenConns(1)
	return newStore(ctx, db, SQLite{}, reg)
}

func newStore(ctx context.Context, db *sql.DB, d Dialect, reg *schema.Registry) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	// энтропия общая на все goroutine'ы сервера — читаем её только под замком
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Store{
		db:          db,
		d:           d,
		reg:         reg,
		ledgerTable: DefaultLedgerTable,
		entropy:     &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(src, 0)},
	}
	if err := s.ensureLedgerTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Dialect возвращает активный диалект.
func (s *Store) Dialect() Dialect { return s.d }

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) ensureLedgerTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`create table if not exists %s (
  seq bigint primary key,
  base_hash text not null,
  target_hash text not null,
  operations text not null,
  applied_ops bigint not null default 0,
  applied_at text null,
  failed boolean not null default false
)`, ident(s.ledgerTable))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger table: %w", err)
	}
	return nil
}

// ---- персистентность леджера (migrate.Store) ----

func (s *Store) LoadRecords(ctx context.Context) ([]migrate.Record, error) {
	q := fmt.Sprintf(`select seq, base_hash, target_hash, operations, applied_ops, applied_at, failed
from %s order by seq`, ident(s.ledgerTable))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []migrate.Record
	for rows.Next() {
		var rec migrate.Record
		var opsJSON string
		var appliedAt sql.NullString
		if err := rows.Scan(&rec.Seq, &rec.BaseHash, &rec.TargetHash, &opsJSON, &rec.AppliedOps, &appliedAt, &rec.Failed); err != nil {
			return nil, err
		}
		if rec.Ops, err = migrate.UnmarshalOps([]byte(opsJSON)); err != nil {
			return nil, fmt.Errorf("migration %d: %w", rec.Seq, err)
		}
		if appliedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, appliedAt.String)
			if err != nil {
				return nil, fmt.Errorf("migration %d: bad applied_at %q", rec.Seq, appliedAt.String)
			}
			rec.AppliedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveRecord(ctx context.Context, rec migrate.Record) error {
	opsJSON, err := migrate.MarshalOps(rec.Ops)
	if err != nil {
		return err
	}
	var appliedAt any
	if rec.AppliedAt != nil {
		appliedAt = rec.AppliedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, s.d.UpsertLedger(s.ledgerTable),
		rec.Seq, rec.BaseHash, rec.TargetHash, string(opsJSON), rec.AppliedOps, appliedAt, rec.Failed)
	if err != nil {
		return fmt.Errorf("save migration %d: %w", rec.Seq, err)
	}
	return nil
}
