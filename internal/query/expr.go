// Package query — ленивое построение и исполнение запросов к хранилищу.
// Expr описывает намерение (фильтры, сортировка, срез, проход по ссылкам)
// и не трогает хранилище; Set материализует его при первом обращении.
package query

import (
	"errors"
	"fmt"
	"strings"

	"ladoga/internal/schema"
)

var (
	// ErrUnknownField — путь фильтра/сортировки не разрешается по схеме.
	ErrUnknownField = errors.New("unknown field")
	// ErrNotFound — запрос не вернул ни одной записи там, где нужна ровно одна.
	ErrNotFound = errors.New("not found")
	// ErrMultipleResults — запрос вернул больше одной записи там, где нужна ровно одна.
	ErrMultipleResults = errors.New("multiple results")
	// ErrImmutableField — попытка записать поле, которое менять нельзя.
	ErrImmutableField = errors.New("immutable field")
)

// Op — оператор сравнения в условии.
type Op string

const (
	OpEq         Op = "eq"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpStartsWith Op = "startswith"
	OpContains   Op = "contains"
	OpIn         Op = "in"
	OpIsNull     Op = "isnull"
)

// ParseOp возвращает оператор по его строковому имени (как в query-string API).
func ParseOp(s string) (Op, bool) {
	switch Op(strings.ToLower(s)) {
	case OpEq, OpLt, OpLte, OpGt, OpGte, OpStartsWith, OpContains, OpIn, OpIsNull:
		return Op(strings.ToLower(s)), true
	}
	return "", false
}

// Reverse — условие через обратную to-many ссылку: сущность Entity ссылается
// на корневую через Via. All=false — «хотя бы одна связанная подходит»
// (по умолчанию), All=true — «все связанные подходят».
type Reverse struct {
	Entity string
	Via    string
	All    bool
}

// Cond — одно условие. Path идёт по many-to-one ссылкам, последний сегмент —
// поле (или ссылка: тогда сравнивается id цели). Ровно один из трёх режимов:
// обычное условие, Reverse-подзапрос или Source (проход Traverse).
type Cond struct {
	Path      []string
	Op        Op
	Value     any
	Negate    bool
	Reverse   *Reverse
	Source    *Expr // id корня входит в выборку SourceCol из Source
	SourceCol string
}

// Order — ключ сортировки; Path как в Cond.
type Order struct {
	Path []string
	Desc bool
}

// Expr — неизменяемое описание запроса. Каждый метод-модификатор возвращает
// производный Expr, не трогая исходный. Ошибки валидации копятся внутри и
// всплывают из Err() либо при исполнении — до обращения к хранилищу.
type Expr struct {
	Entity string
	Conds  []Cond
	Orders []Order
	Offset int
	Limit  int // -1 = без ограничения

	reg *schema.Registry
	err error
}

// New создаёт пустой запрос по сущности.
func New(reg *schema.Registry, entity string) Expr {
	x := Expr{Entity: entity, Limit: -1, reg: reg}
	if _, err := reg.Resolve(entity); err != nil {
		x.err = err
	}
	return x
}

// Err возвращает первую ошибку, накопленную при построении.
func (x Expr) Err() error { return x.err }

// Registry — реестр схемы, по которому строился запрос. Нужен хранилищам
// для разрешения join-путей.
func (x Expr) Registry() *schema.Registry { return x.reg }

// derive — копия с независимыми слайсами, чтобы производные выражения
// делили прочитанное, но не мутировали друг друга.
func (x Expr) derive() Expr {
	x.Conds = append([]Cond(nil), x.Conds...)
	x.Orders = append([]Order(nil), x.Orders...)
	return x
}

func (x Expr) fail(err error) Expr {
	if x.err == nil {
		x.err = err
	}
	return x
}

// Filter добавляет условие. path — через точку: "question.question_text".
func (x Expr) Filter(path string, op Op, value any) Expr {
	return x.cond(path, op, value, false)
}

// Exclude — отрицание условия.
func (x Expr) Exclude(path string, op Op, value any) Expr {
	return x.cond(path, op, value, true)
}

func (x Expr) cond(path string, op Op, value any, negate bool) Expr {
	if x.err != nil {
		return x
	}
	segs, err := resolvePath(x.reg, x.Entity, path)
	if err != nil {
		return x.fail(err)
	}
	out := x.derive()
	out.Conds = append(out.Conds, Cond{Path: segs, Op: op, Value: value, Negate: negate})
	return out
}

// FilterRelated — условие через обратную ссылку с семантикой «хотя бы одна»:
// корневая запись подходит, если хотя бы одна запись entity, ссылающаяся на
// неё через via, удовлетворяет условию.
func (x Expr) FilterRelated(entity, via, path string, op Op, value any) Expr {
	return x.reverse(entity, via, path, op, value, false)
}

// FilterRelatedAll — то же, но «все связанные подходят».
func (x Expr) FilterRelatedAll(entity, via, path string, op Op, value any) Expr {
	return x.reverse(entity, via, path, op, value, true)
}

func (x Expr) reverse(entity, via, path string, op Op, value any, all bool) Expr {
	if x.err != nil {
		return x
	}
	rev, err := x.reg.Resolve(entity)
	if err != nil {
		return x.fail(err)
	}
	rel, ok := rev.Relationship(via)
	if !ok || rel.Target != x.Entity {
		return x.fail(fmt.Errorf("%w: %s has no relationship %q to %s", ErrUnknownField, entity, via, x.Entity))
	}
	segs, err := resolvePath(x.reg, entity, path)
	if err != nil {
		return x.fail(err)
	}
	out := x.derive()
	out.Conds = append(out.Conds, Cond{
		Path:    segs,
		Op:      op,
		Value:   value,
		Reverse: &Reverse{Entity: entity, Via: via, All: all},
	})
	return out
}

// Traverse переходит по many-to-one ссылке: возвращает запрос по целевой
// сущности, ограниченный записями, на которые ссылаются результаты текущего.
func (x Expr) Traverse(rel string) Expr {
	if x.err != nil {
		return x
	}
	ent, err := x.reg.Resolve(x.Entity)
	if err != nil {
		return x.fail(err)
	}
	r, ok := ent.Relationship(rel)
	if !ok {
		return x.fail(fmt.Errorf("%w: %s.%s", ErrUnknownField, x.Entity, rel))
	}
	src := x.derive()
	out := New(x.reg, r.Target)
	out.Conds = append(out.Conds, Cond{
		Path:      []string{schema.IdentityField},
		Source:    &src,
		SourceCol: rel,
	})
	return out
}

// OrderBy добавляет ключи сортировки; префикс "-" — по убыванию.
func (x Expr) OrderBy(fields ...string) Expr {
	if x.err != nil {
		return x
	}
	out := x.derive()
	for _, f := range fields {
		desc := false
		if strings.HasPrefix(f, "-") {
			desc = true
			f = strings.TrimPrefix(f, "-")
		} else {
			f = strings.TrimPrefix(f, "+")
		}
		segs, err := resolvePath(x.reg, x.Entity, f)
		if err != nil {
			return x.fail(err)
		}
		out.Orders = append(out.Orders, Order{Path: segs, Desc: desc})
	}
	return out
}

// Slice задаёт окно результата.
func (x Expr) Slice(offset, limit int) Expr {
	if x.err != nil {
		return x
	}
	out := x.derive()
	if offset < 0 {
		offset = 0
	}
	out.Offset = offset
	out.Limit = limit
	return out
}

// resolvePath проверяет путь по схеме: промежуточные сегменты — ссылки,
// последний — поле либо ссылка (сравнение по id цели).
func resolvePath(reg *schema.Registry, entity, path string) ([]string, error) {
	segs := strings.Split(path, ".")
	cur := entity
	for i, seg := range segs {
		ent, err := reg.Resolve(cur)
		if err != nil {
			return nil, err
		}
		last := i == len(segs)-1
		if rel, ok := ent.Relationship(seg); ok {
			cur = rel.Target
			continue
		}
		if _, ok := ent.Field(seg); ok && last {
			return segs, nil
		}
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, cur, seg)
	}
	// путь закончился на ссылке — допустимо, сравнивается id
	return segs, nil
}
