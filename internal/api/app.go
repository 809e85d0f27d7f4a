// Package api — тонкий HTTP-слой над движком запросов и леджером миграций.
// Никакой алгоритмики: разбор query-string в выражение, маппинг ошибок
// движка в статусы и отдача JSON.
package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"ladoga/internal/migrate"
	"ladoga/internal/query"
	"ladoga/internal/schema"
)

type App struct {
	Reg     *schema.Registry
	Engine  *query.Engine
	Ledger  *migrate.Ledger
	Timeout time.Duration
}

// ListParams — разобранные служебные параметры листинга.
type ListParams struct {
	Limit  int
	Offset int
	Sort   []string
}

var reservedKeys = map[string]struct{}{
	"_limit": {}, "limit": {},
	"_offset": {}, "offset": {},
	"_sort": {}, "sort": {},
}

func parseListParams(q url.Values) ListParams {
	lp := ListParams{Limit: 50, Offset: 0}

	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			lp.Limit = n
		}
	}

	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			lp.Offset = n
		}
	}

	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	if sv != "" {
		for _, p := range strings.Split(sv, ",") {
			if p = strings.TrimSpace(p); p != "" {
				lp.Sort = append(lp.Sort, p)
			}
		}
	}
	return lp
}

// buildExpr собирает выражение из фильтров query-string.
// Ключ — "путь" или "путь__оператор": question.question_text__startswith=What.
func (a *App) buildExpr(entity string, q url.Values) query.Expr {
	x := a.Engine.Query(entity)
	for key, vals := range q {
		if _, skip := reservedKeys[key]; skip || len(vals) == 0 {
			continue
		}
		path := key
		op := query.OpEq
		if i := strings.LastIndex(key, "__"); i >= 0 {
			if parsed, ok := query.ParseOp(key[i+2:]); ok {
				path = key[:i]
				op = parsed
			}
		}
		switch op {
		case query.OpIn:
			var items []any
			for _, v := range vals {
				for _, piece := range strings.Split(v, ",") {
					if piece = strings.TrimSpace(piece); piece != "" {
						items = append(items, coerce(piece))
					}
				}
			}
			x = x.Filter(path, op, items)
		case query.OpIsNull:
			x = x.Filter(path, op, vals[0] == "true" || vals[0] == "1")
		default:
			x = x.Filter(path, op, coerce(vals[0]))
		}
	}
	return x
}

// coerce — значение фильтра из строки: int, float, bool, иначе строка.
func coerce(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	return s
}
