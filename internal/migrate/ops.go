package migrate

import (
	"encoding/json"
	"fmt"

	"ladoga/internal/schema"
)

// OpKind — вид структурного изменения.
type OpKind string

const (
	OpCreateEntity     OpKind = "create_entity"
	OpDropEntity       OpKind = "drop_entity"
	OpAddField         OpKind = "add_field"
	OpDropField        OpKind = "drop_field"
	OpAlterField       OpKind = "alter_field"
	OpAddRelationship  OpKind = "add_relationship"
	OpDropRelationship OpKind = "drop_relationship"
)

// Operation — одно атомарное изменение схемы хранилища.
// create_entity несёт только поля: ссылки всегда добавляются отдельными
// add_relationship после создания всех затронутых сущностей.
type Operation struct {
	Kind   OpKind `json:"op"`
	Entity string `json:"entity"`

	Fields       []schema.Field       `json:"fields,omitempty"`       // create_entity
	Field        *schema.Field        `json:"field,omitempty"`        // add_field / alter_field (новое описание)
	FieldName    string               `json:"field_name,omitempty"`   // drop_field
	Relationship *schema.Relationship `json:"relationship,omitempty"` // add_relationship
	RelName      string               `json:"rel_name,omitempty"`     // drop_relationship
}

func (o Operation) String() string {
	switch o.Kind {
	case OpAddField, OpAlterField:
		return fmt.Sprintf("%s %s.%s", o.Kind, o.Entity, o.Field.Name)
	case OpDropField:
		return fmt.Sprintf("%s %s.%s", o.Kind, o.Entity, o.FieldName)
	case OpAddRelationship:
		return fmt.Sprintf("%s %s.%s -> %s", o.Kind, o.Entity, o.Relationship.Name, o.Relationship.Target)
	case OpDropRelationship:
		return fmt.Sprintf("%s %s.%s", o.Kind, o.Entity, o.RelName)
	default:
		return fmt.Sprintf("%s %s", o.Kind, o.Entity)
	}
}

// MarshalOps сериализует список операций для хранения в леджере.
func MarshalOps(ops []Operation) ([]byte, error) {
	return json.Marshal(ops)
}

// UnmarshalOps — обратная операция.
func UnmarshalOps(data []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return ops, nil
}
