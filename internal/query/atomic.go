package query

import "fmt"

// AtomicKind — вид отложенного присваивания, вычисляемого хранилищем.
type AtomicKind string

const (
	AtomicInc      AtomicKind = "inc"
	AtomicDec      AtomicKind = "dec"
	AtomicSetField AtomicKind = "set_field"
)

// Atomic — отложенное присваивание field = op(текущее значение, операнд).
// Вычисляется целиком на стороне хранилища одной операцией обновления:
// процесс-вызыватель никогда не читает старое значение, поэтому два
// конкурентных инкремента одного поля не теряют друг друга.
type Atomic struct {
	Field string
	Kind  AtomicKind
	By    int64  // inc/dec
	From  string // set_field: имя поля-источника
}

func (a Atomic) String() string {
	switch a.Kind {
	case AtomicInc:
		return fmt.Sprintf("%s += %d", a.Field, a.By)
	case AtomicDec:
		return fmt.Sprintf("%s -= %d", a.Field, a.By)
	default:
		return fmt.Sprintf("%s = %s", a.Field, a.From)
	}
}

// Inc — field = field + by.
func Inc(field string, by int64) Atomic {
	return Atomic{Field: field, Kind: AtomicInc, By: by}
}

// Dec — field = field - by.
func Dec(field string, by int64) Atomic {
	return Atomic{Field: field, Kind: AtomicDec, By: by}
}

// SetFromField — field = значение другого поля той же записи.
func SetFromField(field, from string) Atomic {
	return Atomic{Field: field, Kind: AtomicSetField, From: from}
}
