package schema

import (
	"fmt"
	"strconv"
	"time"
)

// FieldKind — примитивный тип поля.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindInt      FieldKind = "int"
	KindFloat    FieldKind = "float"
	KindBool     FieldKind = "bool"
	KindDate     FieldKind = "date"
	KindDateTime FieldKind = "datetime"
	KindEnum     FieldKind = "enum"
)

// OnDelete — политика при удалении целевой записи ссылки.
type OnDelete string

const (
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteRestrict OnDelete = "restrict"
	OnDeleteSetNull  OnDelete = "set_null"
)

// IdentityField — имя системного поля-идентификатора.
// Синтезируется автоматически, если объявление его не содержит.
const IdentityField = "id"

// Field описывает одну колонку: тип, ограничения, default.
type Field struct {
	Name      string
	Kind      FieldKind
	Required  bool
	Unique    bool
	Default   string // пустая строка = default не задан
	MaxLength int    // только для string; 0 = без ограничения
	Label     string // человекочитаемое имя (для UI/meta)
	Enum      []string
	EnumRef   string // enum[@name] — ссылка на справочник из reference
	Identity  bool   // true только у синтезированного id
}

// Relationship — направленная ссылка many-to-one на другую сущность.
// В хранилище это колонка с id целевой записи.
type Relationship struct {
	Name     string
	Target   string
	OnDelete OnDelete
	Required bool
}

// Entity — именованный набор полей и ссылок. Порядок полей — порядок объявления.
type Entity struct {
	Name          string
	Fields        []Field
	Relationships []Relationship
}

// Field возвращает поле по имени.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Relationship возвращает ссылку по имени.
func (e *Entity) Relationship(name string) (Relationship, bool) {
	for _, r := range e.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// Identity возвращает поле-идентификатор.
func (e *Entity) Identity() Field {
	for _, f := range e.Fields {
		if f.Identity {
			return f
		}
	}
	// не должно случаться: Register всегда синтезирует id
	return Field{Name: IdentityField, Kind: KindString, Required: true, Unique: true, Identity: true}
}

// HasColumn — есть ли у сущности колонка с таким именем (поле или ссылка).
func (e *Entity) HasColumn(name string) bool {
	if _, ok := e.Field(name); ok {
		return true
	}
	_, ok := e.Relationship(name)
	return ok
}

// DefaultValue разбирает строковый Default дескриптора в типизированное
// значение. Для поля без default возвращает (nil, nil).
func (f Field) DefaultValue() (any, error) {
	if f.Default == "" {
		return nil, nil
	}
	switch f.Kind {
	case KindInt:
		n, err := strconv.ParseInt(f.Default, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int default %q", f.Default)
		}
		return n, nil
	case KindFloat:
		x, err := strconv.ParseFloat(f.Default, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float default %q", f.Default)
		}
		return x, nil
	case KindBool:
		b, err := strconv.ParseBool(f.Default)
		if err != nil {
			return nil, fmt.Errorf("bad bool default %q", f.Default)
		}
		return b, nil
	case KindDate, KindDateTime:
		t, err := time.Parse(time.RFC3339, f.Default)
		if err != nil {
			return nil, fmt.Errorf("bad time default %q", f.Default)
		}
		return t, nil
	default:
		return f.Default, nil
	}
}

func (e *Entity) clone() *Entity {
	cp := &Entity{Name: e.Name}
	cp.Fields = make([]Field, len(e.Fields))
	for i, f := range e.Fields {
		cp.Fields[i] = f
		if len(f.Enum) > 0 {
			cp.Fields[i].Enum = append([]string(nil), f.Enum...)
		}
	}
	cp.Relationships = append([]Relationship(nil), e.Relationships...)
	return cp
}
