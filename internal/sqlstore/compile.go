package sqlstore

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"ladoga/internal/query"
	"ladoga/internal/schema"
)

// compiler собирает один SELECT вместе со всеми подзапросами: общий список
// аргументов и сквозная нумерация плейсхолдеров и алиасов.
type compiler struct {
	d       Dialect
	reg     *schema.Registry
	args    []any
	aliasNo int
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.d.Placeholder(len(c.args))
}

func (c *compiler) nextAlias() string {
	c.aliasNo++
	return "t" + strconv.Itoa(c.aliasNo)
}

// joins — join-пути одного уровня запроса: префикс пути -> алиас.
type joins struct {
	c         *compiler
	entity    string
	rootAlias string
	byPrefix  map[string]string
	clauses   []string
}

func newJoins(c *compiler, entity, rootAlias string) *joins {
	return &joins{c: c, entity: entity, rootAlias: rootAlias, byPrefix: map[string]string{}}
}

// ref разрешает путь в ссылку на колонку, добавляя недостающие join'ы.
func (j *joins) ref(path []string) (string, error) {
	curEntity := j.entity
	curAlias := j.rootAlias
	for i, seg := range path {
		ent, err := j.c.reg.Resolve(curEntity)
		if err != nil {
			return "", err
		}
		if i == len(path)-1 {
			// последний сегмент: системная колонка, поле или ссылка (id цели)
			switch seg {
			case schema.IdentityField, "version", "created_at", "updated_at":
				return curAlias + "." + ident(seg), nil
			}
			if _, ok := ent.Field(seg); ok {
				return curAlias + "." + ident(seg), nil
			}
			if _, ok := ent.Relationship(seg); ok {
				return curAlias + "." + ident(seg), nil
			}
			return "", fmt.Errorf("%w: %s.%s", query.ErrUnknownField, curEntity, seg)
		}
		rel, ok := ent.Relationship(seg)
		if !ok {
			return "", fmt.Errorf("%w: %s.%s", query.ErrUnknownField, curEntity, seg)
		}
		prefix := strings.Join(path[:i+1], ".")
		alias, seen := j.byPrefix[prefix]
		if !seen {
			alias = j.c.nextAlias()
			j.byPrefix[prefix] = alias
			j.clauses = append(j.clauses, fmt.Sprintf("left join %s %s on %s.%s = %s.%s",
				ident(tableOf(rel.Target)), alias, curAlias, ident(seg), alias, ident(schema.IdentityField)))
		}
		curAlias = alias
		curEntity = rel.Target
	}
	return "", fmt.Errorf("%w: empty path", query.ErrUnknownField)
}

// condSQL переводит одно условие в SQL-предикат.
func (c *compiler) condSQL(j *joins, cond query.Cond) (string, error) {
	var sql string
	switch {
	case cond.Source != nil:
		sub, err := c.selectSQL(*cond.Source, []string{cond.SourceCol})
		if err != nil {
			return "", err
		}
		sql = fmt.Sprintf("%s.%s in (%s)", j.rootAlias, ident(schema.IdentityField), sub)

	case cond.Reverse != nil:
		rev := cond.Reverse
		alias := c.nextAlias()
		inner := newJoins(c, rev.Entity, alias)
		pred, err := c.condSQL(inner, query.Cond{Path: cond.Path, Op: cond.Op, Value: cond.Value})
		if err != nil {
			return "", err
		}
		corr := fmt.Sprintf("%s.%s = %s.%s", alias, ident(rev.Via), j.rootAlias, ident(schema.IdentityField))
		from := ident(tableOf(rev.Entity)) + " " + alias
		if len(inner.clauses) > 0 {
			from += " " + strings.Join(inner.clauses, " ")
		}
		if rev.All {
			// «все связанные подходят» = нет связанной, которая не подходит
			sql = fmt.Sprintf("not exists (select 1 from %s where %s and not (%s))", from, corr, pred)
		} else {
			sql = fmt.Sprintf("exists (select 1 from %s where %s and %s)", from, corr, pred)
		}

	default:
		ref, err := j.ref(cond.Path)
		if err != nil {
			return "", err
		}
		sql, err = c.opSQL(ref, cond.Op, cond.Value)
		if err != nil {
			return "", err
		}
	}

	if cond.Negate {
		sql = "not (" + sql + ")"
	}
	return sql, nil
}

func (c *compiler) opSQL(ref string, op query.Op, value any) (string, error) {
	switch op {
	case query.OpEq:
		return ref + " = " + c.bind(value), nil
	case query.OpLt:
		return ref + " < " + c.bind(value), nil
	case query.OpLte:
		return ref + " <= " + c.bind(value), nil
	case query.OpGt:
		return ref + " > " + c.bind(value), nil
	case query.OpGte:
		return ref + " >= " + c.bind(value), nil
	case query.OpStartsWith:
		return ref + " like " + c.bind(escapeLike(fmt.Sprint(value))+"%") + ` escape '\'`, nil
	case query.OpContains:
		return ref + " like " + c.bind("%"+escapeLike(fmt.Sprint(value))+"%") + ` escape '\'`, nil
	case query.OpIsNull:
		if want, _ := value.(bool); want {
			return ref + " is null", nil
		}
		return ref + " is not null", nil
	case query.OpIn:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return ref + " = " + c.bind(value), nil
		}
		if rv.Len() == 0 {
			return "1 = 0", nil
		}
		phs := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			phs[i] = c.bind(rv.Index(i).Interface())
		}
		return ref + " in (" + strings.Join(phs, ", ") + ")", nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}

// selectSQL собирает SELECT по выражению. cols — имена колонок корневой
// сущности (nil = все колонки сущности по схеме).
func (c *compiler) selectSQL(x query.Expr, cols []string) (string, error) {
	ent, err := c.reg.Resolve(x.Entity)
	if err != nil {
		return "", err
	}
	root := c.nextAlias()
	j := newJoins(c, x.Entity, root)

	var where []string
	for _, cond := range x.Conds {
		pred, err := c.condSQL(j, cond)
		if err != nil {
			return "", err
		}
		where = append(where, pred)
	}

	var orderBy []string
	for _, o := range x.Orders {
		ref, err := j.ref(o.Path)
		if err != nil {
			return "", err
		}
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		// null в конец при любом направлении — так же, как in-memory движок
		orderBy = append(orderBy, fmt.Sprintf("(%s is null) asc, %s %s", ref, ref, dir))
	}

	if cols == nil {
		cols = columnNames(ent)
	}
	sel := make([]string, len(cols))
	for i, col := range cols {
		sel[i] = root + "." + ident(col)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "select %s from %s %s", strings.Join(sel, ", "), ident(tableOf(x.Entity)), root)
	if len(j.clauses) > 0 {
		sb.WriteString(" " + strings.Join(j.clauses, " "))
	}
	if len(where) > 0 {
		sb.WriteString(" where " + strings.Join(where, " and "))
	}
	if len(orderBy) > 0 {
		sb.WriteString(" order by " + strings.Join(orderBy, ", "))
	}
	if x.Limit >= 0 {
		sb.WriteString(" limit " + strconv.Itoa(x.Limit))
	}
	if x.Offset > 0 {
		sb.WriteString(" offset " + strconv.Itoa(x.Offset))
	}
	return sb.String(), nil
}

// CompileSelect возвращает SQL и аргументы выборки — без исполнения.
func (s *Store) CompileSelect(x query.Expr) (string, []any, error) {
	c := &compiler{d: s.d, reg: s.registryFor(x)}
	sqlText, err := c.selectSQL(x, nil)
	if err != nil {
		return "", nil, err
	}
	return sqlText, c.args, nil
}

// CompileCount — count(*) поверх выражения; срез учитывается обёрткой.
func (s *Store) CompileCount(x query.Expr) (string, []any, error) {
	c := &compiler{d: s.d, reg: s.registryFor(x)}
	sub, err := c.selectSQL(x, []string{schema.IdentityField})
	if err != nil {
		return "", nil, err
	}
	return "select count(*) from (" + sub + ") cnt", c.args, nil
}

func (s *Store) registryFor(x query.Expr) *schema.Registry {
	if r := x.Registry(); r != nil {
		return r
	}
	return s.reg
}

// columnNames — порядок колонок выборки: системные, затем схема.
func columnNames(ent *schema.Entity) []string {
	cols := []string{schema.IdentityField, "version", "created_at", "updated_at"}
	for _, f := range ent.Fields {
		if !f.Identity {
			cols = append(cols, f.Name)
		}
	}
	for _, r := range ent.Relationships {
		cols = append(cols, r.Name)
	}
	return cols
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
