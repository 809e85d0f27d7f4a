package schema

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/zeebo/blake3"
)

// Snapshot — неизменяемый срез всех объявленных сущностей на момент снятия.
// Новая загрузка деклараций даёт новый снапшот; старые не мутируются.
type Snapshot struct {
	Entities []Entity `json:"entities"`
}

// EmptySnapshot — снапшот до первой миграции.
func EmptySnapshot() Snapshot { return Snapshot{} }

// Snapshot снимает глубокую копию текущего состояния реестра.
// Сущности — в порядке регистрации, поля — в порядке объявления.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Snapshot{Entities: make([]Entity, 0, len(r.order))}
	for _, name := range r.order {
		out.Entities = append(out.Entities, *r.entities[name].clone())
	}
	return out
}

// Entity возвращает сущность снапшота по имени.
func (s Snapshot) Entity(name string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// Hash — контент-адрес снапшота. Используется леджером миграций для привязки
// записи к базовому состоянию и обнаружения конфликтов. Хеш канонический:
// сущности, поля и ссылки сортируются по имени, так что снапшот, собранный
// проигрыванием истории операций, и снапшот реестра с тем же содержимым
// дают один адрес независимо от порядка объявления.
func (s Snapshot) Hash() string {
	canon := Snapshot{Entities: make([]Entity, 0, len(s.Entities))}
	for _, e := range s.Entities {
		canon.Entities = append(canon.Entities, *e.clone())
	}
	sort.Slice(canon.Entities, func(i, j int) bool { return canon.Entities[i].Name < canon.Entities[j].Name })
	for i := range canon.Entities {
		e := &canon.Entities[i]
		sort.Slice(e.Fields, func(a, b int) bool { return e.Fields[a].Name < e.Fields[b].Name })
		sort.Slice(e.Relationships, func(a, b int) bool { return e.Relationships[a].Name < e.Relationships[b].Name })
	}

	b, err := json.Marshal(canon)
	if err != nil {
		// Snapshot состоит из plain-структур, Marshal не падает
		panic(err)
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
