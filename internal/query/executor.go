package query

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"ladoga/internal/schema"
)

// Row — одна запись результата: плоская карта колонок, включая системные
// id/version/created_at/updated_at.
type Row map[string]any

// Backend — контракт хранилища, который потребляет исполнитель.
// Select/Count принимают готовый Expr; Update обязан исполнить атомики
// одной операцией на стороне хранилища.
type Backend interface {
	Select(ctx context.Context, x Expr) ([]Row, error)
	Count(ctx context.Context, x Expr) (int64, error)
	Insert(ctx context.Context, entity string, values map[string]any) (Row, error)
	Update(ctx context.Context, entity, id string, sets map[string]any, atomics []Atomic) error
	Delete(ctx context.Context, entity, id string) error
}

// Set лениво материализует Expr. Первое обращение выполняет запрос и
// кэширует результат на время жизни этого Set; перезапрос — только новым Set
// по тому же (или производному) выражению.
type Set struct {
	x  Expr
	be Backend

	mu   sync.Mutex
	rows []Row
	done bool
}

// NewSet связывает выражение с хранилищем. Хранилище не трогается.
func NewSet(be Backend, x Expr) *Set {
	return &Set{x: x, be: be}
}

// Expr возвращает выражение, на котором построен Set.
func (s *Set) Expr() Expr { return s.x }

// All возвращает все записи. Первое обращение выполняет запрос,
// последующие отдают кэш без похода в хранилище.
func (s *Set) All(ctx context.Context) ([]Row, error) {
	if err := s.x.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.rows, nil
	}
	rows, err := s.be.Select(ctx, s.x)
	if err != nil {
		return nil, err
	}
	s.rows = rows
	s.done = true
	return rows, nil
}

// Iter отдаёт записи по одной; первый вызов материализует выборку,
// повторные обходят тот же кэш.
func (s *Set) Iter(ctx context.Context) (iter.Seq[Row], error) {
	rows, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return func(yield func(Row) bool) {
		for _, r := range rows {
			if !yield(r) {
				return
			}
		}
	}, nil
}

// Count — количество подходящих записей. Пока результат не материализован,
// считает на стороне хранилища без выборки строк.
func (s *Set) Count(ctx context.Context) (int64, error) {
	if err := s.x.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.done {
		n := int64(len(s.rows))
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	return s.be.Count(ctx, s.x)
}

// Exists — есть ли хотя бы одна запись; не тянет больше одной строки.
func (s *Set) Exists(ctx context.Context) (bool, error) {
	if err := s.x.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.done {
		ok := len(s.rows) > 0
		s.mu.Unlock()
		return ok, nil
	}
	s.mu.Unlock()

	probe := s.x
	probe.Limit = 1
	rows, err := s.be.Select(ctx, probe)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// First — первая запись в порядке сортировки; ErrNotFound, если пусто.
func (s *Set) First(ctx context.Context) (Row, error) {
	if err := s.x.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.done {
		defer s.mu.Unlock()
		if len(s.rows) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.x.Entity)
		}
		return s.rows[0], nil
	}
	s.mu.Unlock()

	probe := s.x
	probe.Limit = 1
	rows, err := s.be.Select(ctx, probe)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.x.Entity)
	}
	return rows[0], nil
}

// GetOr404 требует ровно одну запись: ноль — ErrNotFound,
// больше одной — ErrMultipleResults. Тянет не больше двух строк.
func (s *Set) GetOr404(ctx context.Context) (Row, error) {
	if err := s.x.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.done {
		defer s.mu.Unlock()
		return pickOne(s.rows, s.x.Entity)
	}
	s.mu.Unlock()

	probe := s.x
	probe.Limit = 2
	rows, err := s.be.Select(ctx, probe)
	if err != nil {
		return nil, err
	}
	return pickOne(rows, s.x.Entity)
}

func pickOne(rows []Row, entity string) (Row, error) {
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entity)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleResults, entity)
	}
}

// Engine — фасад над реестром и хранилищем: строит запросы, валидирует
// записываемые поля и проводит обновления с атомиками.
type Engine struct {
	reg *schema.Registry
	be  Backend
}

func NewEngine(reg *schema.Registry, be Backend) *Engine {
	return &Engine{reg: reg, be: be}
}

// Query начинает выражение по сущности.
func (e *Engine) Query(entity string) Expr { return New(e.reg, entity) }

// Set оборачивает выражение ленивым исполнителем.
func (e *Engine) Set(x Expr) *Set { return NewSet(e.be, x) }

// Get — запись по id; ErrNotFound, если нет.
func (e *Engine) Get(ctx context.Context, entity, id string) (Row, error) {
	return e.Set(e.Query(entity).Filter(schema.IdentityField, OpEq, id)).GetOr404(ctx)
}

// Related — связанные записи target, ссылающиеся через via на запись id.
// Явная замена «магических» обратных аксессоров: результат — обычный Expr.
func (e *Engine) Related(target, via string, id any) Expr {
	return e.Query(target).Filter(via, OpEq, id)
}

// Insert создаёт запись. Имена колонок проверяются по схеме до похода
// в хранилище; id и системные колонки назначает хранилище.
func (e *Engine) Insert(ctx context.Context, entity string, values map[string]any) (Row, error) {
	ent, err := e.reg.Resolve(entity)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(ent, values); err != nil {
		return nil, err
	}
	return e.be.Insert(ctx, entity, values)
}

// Update обновляет запись: обычные присваивания sets плюс атомики,
// вычисляемые на стороне хранилища одной операцией.
func (e *Engine) Update(ctx context.Context, entity, id string, sets map[string]any, atomics ...Atomic) error {
	ent, err := e.reg.Resolve(entity)
	if err != nil {
		return err
	}
	if err := checkColumns(ent, sets); err != nil {
		return err
	}
	for _, a := range atomics {
		f, ok := ent.Field(a.Field)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, entity, a.Field)
		}
		switch a.Kind {
		case AtomicInc, AtomicDec:
			if f.Kind != schema.KindInt && f.Kind != schema.KindFloat {
				return fmt.Errorf("%s.%s: %s needs a numeric field, got %s", entity, a.Field, a.Kind, f.Kind)
			}
		case AtomicSetField:
			if !ent.HasColumn(a.From) {
				return fmt.Errorf("%w: %s.%s", ErrUnknownField, entity, a.From)
			}
		}
	}
	return e.be.Update(ctx, entity, id, sets, atomics)
}

// Delete удаляет запись по id.
func (e *Engine) Delete(ctx context.Context, entity, id string) error {
	if _, err := e.reg.Resolve(entity); err != nil {
		return err
	}
	return e.be.Delete(ctx, entity, id)
}

func checkColumns(ent *schema.Entity, values map[string]any) error {
	for name := range values {
		if name == schema.IdentityField {
			return fmt.Errorf("%w: %s.%s", ErrImmutableField, ent.Name, name)
		}
		if !ent.HasColumn(name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, ent.Name, name)
		}
	}
	return nil
}
