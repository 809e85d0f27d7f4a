package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"ladoga/internal/reference"
)

var (
	// ErrUnknownEntity — сущность не объявлена в реестре.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrDuplicateEntity — повторная регистрация с другой формой.
	ErrDuplicateEntity = errors.New("duplicate entity")
	// ErrUnknownEnum — поле ссылается на несуществующий справочник.
	ErrUnknownEnum = errors.New("unknown enum directory")
	// ErrCascadeCycle — цикл из cascade-ссылок: удаление зациклится.
	ErrCascadeCycle = errors.New("cascade cycle")
)

// Registry — единственный владелец объявлений сущностей на время жизни процесса.
// Собирается один раз на старте из загруженных деклараций; после этого читается
// конкурентно без изменений. Никакой работы с хранилищем здесь нет.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
	enums    map[string]reference.EnumDirectory
}

// NewRegistry создаёт пустой реестр. enums может быть nil, если справочники не нужны.
func NewRegistry(enums map[string]reference.EnumDirectory) *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		enums:    enums,
	}
}

// Register добавляет объявление сущности.
// Идемпотентна по имени: повторная регистрация той же формы — no-op.
// Повторная регистрация с другой формой — ErrDuplicateEntity; явная замена
// делается через Replace и не трогает уже записанную историю миграций.
func (r *Registry) Register(decl Entity) (*Entity, error) {
	e, err := r.normalize(decl)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entities[e.Name]; ok {
		if reflect.DeepEqual(prev, e) {
			return prev, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntity, e.Name)
	}
	r.entities[e.Name] = e
	r.order = append(r.order, e.Name)
	return e, nil
}

// Replace заменяет объявление in-memory. Историю миграций задним числом не меняет:
// расхождение со схемой хранилища всплывёт при следующем diff.
func (r *Registry) Replace(decl Entity) (*Entity, error) {
	e, err := r.normalize(decl)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[e.Name]; !ok {
		r.order = append(r.order, e.Name)
	}
	r.entities[e.Name] = e
	return e, nil
}

// Resolve возвращает сущность по имени.
func (r *Registry) Resolve(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entities[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
}

// Names возвращает имена сущностей в порядке регистрации.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// normalize приводит декларацию к канонической форме:
// проверка имён, синтез id, разворачивание enum[@dir] из справочников.
func (r *Registry) normalize(decl Entity) (*Entity, error) {
	name := strings.TrimSpace(decl.Name)
	if name == "" {
		return nil, fmt.Errorf("entity with empty name")
	}

	e := decl.clone()
	e.Name = name

	seen := map[string]struct{}{}
	for i := range e.Fields {
		f := &e.Fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("%s: field with empty name", name)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", name, f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Kind == KindEnum && f.EnumRef != "" {
			dir, ok := r.enums[f.EnumRef]
			if !ok {
				return nil, fmt.Errorf("%w: %s (field %s.%s)", ErrUnknownEnum, f.EnumRef, name, f.Name)
			}
			f.Enum = dir.Codes()
		}
	}
	for _, rel := range e.Relationships {
		if rel.Name == "" {
			return nil, fmt.Errorf("%s: relationship with empty name", name)
		}
		if _, dup := seen[rel.Name]; dup {
			return nil, fmt.Errorf("%s: relationship %q clashes with a field", name, rel.Name)
		}
		seen[rel.Name] = struct{}{}
	}

	// синтез идентификатора, если объявление его не принесло
	if _, ok := e.Field(IdentityField); !ok {
		id := Field{Name: IdentityField, Kind: KindString, Required: true, Unique: true, Identity: true}
		e.Fields = append([]Field{id}, e.Fields...)
	} else {
		for i := range e.Fields {
			if e.Fields[i].Name == IdentityField {
				e.Fields[i].Identity = true
				e.Fields[i].Required = true
				e.Fields[i].Unique = true
			}
		}
	}
	return e, nil
}

// Validate проверяет межсущностные инварианты: цели ссылок объявлены,
// cascade-циклы обнаружены. Циклы ссылок сами по себе допустимы (A→B и B→A),
// но цикл, целиком состоящий из cascade, при удалении зациклится — его флагуем.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// cascade-граф: имя -> имена целей по cascade-рёбрам
	cascade := make(map[string][]string)

	for _, name := range r.order {
		e := r.entities[name]
		for _, rel := range e.Relationships {
			if _, ok := r.entities[rel.Target]; !ok {
				return fmt.Errorf("%w: %s (relationship %s.%s)", ErrUnknownEntity, rel.Target, name, rel.Name)
			}
			if rel.OnDelete == OnDeleteCascade {
				cascade[rel.Target] = append(cascade[rel.Target], name)
			}
		}
	}

	// поиск цикла в cascade-графе обычным трёхцветным DFS
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(cascade))
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		for _, next := range cascade[n] {
			switch color[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range cascade {
		if color[n] == white && visit(n) {
			return fmt.Errorf("%w: via %s", ErrCascadeCycle, n)
		}
	}
	return nil
}
