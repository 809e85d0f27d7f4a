// Package memstore — хранилище в памяти. Включается при пустом db url
// и используется тестами движка. Реализует и query.Backend, и migrate.Store:
// DDL-операции мутируют его карту схем, записи живут в map под RWMutex.
package memstore

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"ladoga/internal/migrate"
	"ladoga/internal/schema"

	"github.com/oklog/ulid/v2"
)

type record struct {
	ID        string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      map[string]any
}

// Store — in-memory хранилище. Схема здесь — применённая (результат DDL),
// а не объявленная: до миграции вставки и выборки падают.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*schema.Entity
	order    []string
	data     map[string]map[string]*record
	ledger   []migrate.Record
	entropy  io.Reader
}

func New() *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{
		entities: make(map[string]*schema.Entity),
		data:     make(map[string]map[string]*record),
		entropy:  ulid.Monotonic(src, 0),
	}
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// ---- migrate.Store ----

func (s *Store) LoadRecords(ctx context.Context) ([]migrate.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]migrate.Record, len(s.ledger))
	copy(out, s.ledger)
	return out, nil
}

func (s *Store) SaveRecord(ctx context.Context, rec migrate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ledger {
		if s.ledger[i].Seq == rec.Seq {
			s.ledger[i] = rec
			return nil
		}
	}
	s.ledger = append(s.ledger, rec)
	return nil
}

func (s *Store) ExecDDL(ctx context.Context, op migrate.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op.Kind {
	case migrate.OpCreateEntity:
		if _, ok := s.entities[op.Entity]; ok {
			return fmt.Errorf("entity %s already exists", op.Entity)
		}
		s.entities[op.Entity] = &schema.Entity{
			Name:   op.Entity,
			Fields: append([]schema.Field(nil), op.Fields...),
		}
		s.order = append(s.order, op.Entity)
		s.data[op.Entity] = make(map[string]*record)

	case migrate.OpDropEntity:
		if _, ok := s.entities[op.Entity]; !ok {
			return fmt.Errorf("entity %s does not exist", op.Entity)
		}
		delete(s.entities, op.Entity)
		delete(s.data, op.Entity)
		for i, n := range s.order {
			if n == op.Entity {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}

	case migrate.OpAddField:
		e, ok := s.entities[op.Entity]
		if !ok {
			return fmt.Errorf("entity %s does not exist", op.Entity)
		}
		if e.HasColumn(op.Field.Name) {
			return fmt.Errorf("%s.%s already exists", op.Entity, op.Field.Name)
		}
		e.Fields = append(e.Fields, *op.Field)
		// существующие записи получают default нового поля
		if op.Field.Default != "" {
			if v, err := op.Field.DefaultValue(); err == nil {
				for _, rec := range s.data[op.Entity] {
					rec.Data[op.Field.Name] = v
				}
			}
		}

	case migrate.OpDropField:
		e, ok := s.entities[op.Entity]
		if !ok {
			return fmt.Errorf("entity %s does not exist", op.Entity)
		}
		kept := e.Fields[:0]
		found := false
		for _, f := range e.Fields {
			if f.Name == op.FieldName {
				found = true
				continue
			}
			kept = append(kept, f)
		}
		if !found {
			return fmt.Errorf("%s.%s does not exist", op.Entity, op.FieldName)
		}
		e.Fields = kept
		for _, rec := range s.data[op.Entity] {
			delete(rec.Data, op.FieldName)
		}

	case migrate.OpAlterField:
		e, ok := s.entities[op.Entity]
		if !ok {
			return fmt.Errorf("entity %s does not exist", op.Entity)
		}
		found := false
		for i := range e.Fields {
			if e.Fields[i].Name == op.Field.Name {
				e.Fields[i] = *op.Field
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s.%s does not exist", op.Entity, op.Field.Name)
		}

	case migrate.OpAddRelationship:
		e, ok := s.entities[op.Entity]
		if !ok {
			return fmt.Errorf("entity %s does not exist", op.Entity)
		}
		if e.HasColumn(op.Relationship.Name) {
			return fmt.Errorf("%s.%s already exists", op.Entity, op.Relationship.Name)
		}
		if _, ok := s.entities[op.Relationship.Target]; !ok {
			return fmt.Errorf("relationship target %s does not exist", op.Relationship.Target)
		}
		e.Relationships = append(e.Relationships, *op.Relationship)

	case migrate.OpDropRelationship:
		e, ok := s.entities[op.Entity]
		if !ok {
			return fmt.Errorf("entity %s does not exist", op.Entity)
		}
		kept := e.Relationships[:0]
		found := false
		for _, r := range e.Relationships {
			if r.Name == op.RelName {
				found = true
				continue
			}
			kept = append(kept, r)
		}
		if !found {
			return fmt.Errorf("%s.%s does not exist", op.Entity, op.RelName)
		}
		e.Relationships = kept
		for _, rec := range s.data[op.Entity] {
			delete(rec.Data, op.RelName)
		}

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// Entities возвращает имена сущностей применённой схемы.
func (s *Store) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Store) entity(name string) (*schema.Entity, error) {
	if e, ok := s.entities[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("entity %s is not migrated", name)
}
