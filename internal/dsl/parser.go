// Package dsl разбирает файлы объявлений сущностей (*.dsl) в декларации
// для schema.Registry. Формат построчный:
//
//	entity Question:
//	  question_text: string max_length=200 label="Текст вопроса"
//	  pub_date: datetime required
//
//	entity Choice:
//	  question: ref[Question] on_delete=cascade required
//	  choice_text: string max_length=200
//	  votes: int default=0
//
// Типы: string, int, float, bool, date, datetime, enum[a,b,c], enum[@справочник],
// ref[Entity]. Опции: required, unique, default=, max_length=, label=, on_delete=.
package dsl

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"ladoga/internal/schema"
)

var (
	entityRe = regexp.MustCompile(`^entity\s+(\w+):`)
	fieldRe  = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe   = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe    = regexp.MustCompile(`^ref\[([A-Za-z0-9_]+)\]$`)
)

// splitOptionTokens делит хвост опций на токены, не разрывая по пробелам
// внутри кавычек.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// parseOptions разбирает "required unique default=0 label='...'" в карту.
// Флаг без значения получает "true".
func parseOptions(tail string) map[string]string {
	tail = strings.TrimSpace(tail)
	if i := strings.IndexByte(tail, '#'); i >= 0 {
		tail = strings.TrimSpace(tail[:i])
	}
	tail = strings.ReplaceAll(tail, ",", " ")

	opts := map[string]string{}
	for _, tok := range splitOptionTokens(tail) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		if k != "" {
			opts[k] = unquote(strings.TrimSpace(kv[1]))
		}
	}
	return opts
}

func kindOf(raw string) (schema.FieldKind, bool) {
	switch strings.ToLower(raw) {
	case "string", "text":
		return schema.KindString, true
	case "int", "integer":
		return schema.KindInt, true
	case "float":
		return schema.KindFloat, true
	case "bool":
		return schema.KindBool, true
	case "date":
		return schema.KindDate, true
	case "datetime":
		return schema.KindDateTime, true
	}
	return "", false
}

func onDeleteOf(opts map[string]string) (schema.OnDelete, error) {
	switch strings.ToLower(strings.TrimSpace(opts["on_delete"])) {
	case "", "restrict":
		return schema.OnDeleteRestrict, nil
	case "cascade":
		return schema.OnDeleteCascade, nil
	case "set_null":
		return schema.OnDeleteSetNull, nil
	}
	return "", fmt.Errorf("unknown on_delete policy %q", opts["on_delete"])
}

// LoadEntities читает один .dsl файл и возвращает декларации в порядке объявления.
func LoadEntities(path string) ([]schema.Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entities []schema.Entity
	var current *schema.Entity
	lineNo := 0

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entities = append(entities, *current)
			}
			current = &schema.Entity{Name: m[1]}
			continue
		}
		if current == nil {
			// всё вне сущности игнорируем
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s:%d: cannot parse line %q", path, lineNo, line)
		}
		name, rawType, tail := m[1], m[2], m[3]

		// склейка типа со скобками, если пробел порвал enum[a, b]
		if strings.ContainsRune(rawType, '[') && !strings.ContainsRune(rawType, ']') {
			if idx := strings.Index(tail, "]"); idx >= 0 {
				rawType = rawType + tail[:idx+1]
				tail = tail[idx+1:]
			}
		}
		opts := parseOptions(tail)

		// ref[Entity] — это Relationship, не Field
		if mm := refRe.FindStringSubmatch(rawType); mm != nil {
			policy, err := onDeleteOf(opts)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %s.%s: %w", path, lineNo, current.Name, name, err)
			}
			current.Relationships = append(current.Relationships, schema.Relationship{
				Name:     name,
				Target:   mm[1],
				OnDelete: policy,
				Required: opts["required"] == "true",
			})
			continue
		}

		f := schema.Field{
			Name:     name,
			Required: opts["required"] == "true",
			Unique:   opts["unique"] == "true",
			Default:  opts["default"],
			Label:    opts["label"],
		}
		if v := opts["max_length"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%s:%d: %s.%s: bad max_length %q", path, lineNo, current.Name, name, v)
			}
			f.MaxLength = n
		}

		if mm := enumRe.FindStringSubmatch(rawType); mm != nil {
			f.Kind = schema.KindEnum
			inside := strings.TrimSpace(mm[1])
			if strings.HasPrefix(inside, "@") {
				f.EnumRef = strings.TrimPrefix(inside, "@")
			} else {
				for _, p := range strings.Split(inside, ",") {
					if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
						f.Enum = append(f.Enum, s)
					}
				}
			}
		} else if kind, ok := kindOf(rawType); ok {
			f.Kind = kind
		} else {
			return nil, fmt.Errorf("%s:%d: %s.%s: unknown type %q", path, lineNo, current.Name, name, rawType)
		}

		if f.MaxLength > 0 && f.Kind != schema.KindString {
			return nil, fmt.Errorf("%s:%d: %s.%s: max_length is only for string", path, lineNo, current.Name, name)
		}
		current.Fields = append(current.Fields, f)
	}

	if current != nil {
		entities = append(entities, *current)
	}
	return entities, scanner.Err()
}

// LoadAll обходит каталог и собирает декларации из всех *.dsl файлов.
// Дубликаты имён между файлами — ошибка загрузки, а не тихая перезапись.
func LoadAll(root string) ([]schema.Entity, error) {
	var out []schema.Entity
	seen := map[string]string{} // имя -> файл, где объявлена

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		ents, err := LoadEntities(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range ents {
			if prev, dup := seen[e.Name]; dup {
				return fmt.Errorf("duplicate entity %q (declared in %s and %s)", e.Name, prev, path)
			}
			seen[e.Name] = path
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
