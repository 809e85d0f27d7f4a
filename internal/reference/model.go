package reference

import "sort"

// EnumDirectory — один общий справочник значений. Поля enum[@name]
// разворачивают свой набор допустимых кодов из такого справочника
// при регистрации сущности.
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Order int    `yaml:"order,omitempty"`
}

// Codes возвращает коды справочника в порядке Order, затем объявления.
func (d EnumDirectory) Codes() []string {
	items := append([]EnumItem(nil), d.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Code)
	}
	return out
}
