package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ladoga/internal/migrate"
	"ladoga/internal/query"
	"ladoga/internal/schema"

	"github.com/gin-gonic/gin"
)

func (a *App) requestCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), a.Timeout)
}

// statusFor переводит ошибку движка в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, query.ErrUnknownField), errors.Is(err, query.ErrMultipleResults),
		errors.Is(err, query.ErrImmutableField):
		return http.StatusBadRequest
	case errors.Is(err, migrate.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// GET /api/:entity
func ListHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := a.requestCtx(c)
		defer cancel()

		qs := c.Request.URL.Query()
		base := a.buildExpr(c.Param("entity"), qs)

		lp := parseListParams(qs)
		x := base.OrderBy(lp.Sort...).Slice(lp.Offset, lp.Limit)

		total, err := a.Engine.Set(base).Count(ctx)
		if err != nil {
			fail(c, err)
			return
		}
		rows, err := a.Engine.Set(x).All(ctx)
		if err != nil {
			fail(c, err)
			return
		}
		if rows == nil {
			rows = []query.Row{}
		}
		c.Header("X-Total-Count", strconv.FormatInt(total, 10))
		c.JSON(http.StatusOK, rows)
	}
}

// GET /api/:entity/count
func CountHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := a.requestCtx(c)
		defer cancel()

		n, err := a.Engine.Set(a.buildExpr(c.Param("entity"), c.Request.URL.Query())).Count(ctx)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// GET /api/:entity/:id
func GetOneHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := a.requestCtx(c)
		defer cancel()

		row, err := a.Engine.Get(ctx, c.Param("entity"), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// POST /api/:entity
func CreateHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
			return
		}
		ctx, cancel := a.requestCtx(c)
		defer cancel()

		row, err := a.Engine.Insert(ctx, c.Param("entity"), obj)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, row)
	}
}

// PATCH /api/:entity/:id
//
// Значение-объект с одним из ключей $inc/$dec/$from_field превращается
// в атомик: {"votes": {"$inc": 1}} складывается на стороне хранилища,
// без чтения текущего значения в процесс.
func PatchHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
			return
		}

		sets := map[string]any{}
		var atomics []query.Atomic
		for field, v := range obj {
			m, ok := v.(map[string]any)
			if !ok {
				sets[field] = v
				continue
			}
			switch {
			case m["$inc"] != nil:
				atomics = append(atomics, query.Inc(field, toInt64(m["$inc"])))
			case m["$dec"] != nil:
				atomics = append(atomics, query.Dec(field, toInt64(m["$dec"])))
			case m["$from_field"] != nil:
				from, _ := m["$from_field"].(string)
				atomics = append(atomics, query.SetFromField(field, from))
			default:
				sets[field] = v
			}
		}

		ctx, cancel := a.requestCtx(c)
		defer cancel()

		if err := a.Engine.Update(ctx, c.Param("entity"), c.Param("id"), sets, atomics...); err != nil {
			fail(c, err)
			return
		}
		row, err := a.Engine.Get(ctx, c.Param("entity"), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// DELETE /api/:entity/:id
func DeleteHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := a.requestCtx(c)
		defer cancel()

		if err := a.Engine.Delete(ctx, c.Param("entity"), c.Param("id")); err != nil {
			if strings.Contains(err.Error(), "restricted") {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /api/_meta — объявленные сущности и их поля.
func MetaHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]gin.H, 0)
		for _, name := range a.Reg.Names() {
			e, err := a.Reg.Resolve(name)
			if err != nil {
				continue
			}
			fields := make([]gin.H, 0, len(e.Fields))
			for _, f := range e.Fields {
				fields = append(fields, gin.H{
					"name": f.Name, "kind": f.Kind, "required": f.Required,
					"unique": f.Unique, "label": f.Label,
				})
			}
			rels := make([]gin.H, 0, len(e.Relationships))
			for _, r := range e.Relationships {
				rels = append(rels, gin.H{"name": r.Name, "target": r.Target, "on_delete": r.OnDelete})
			}
			out = append(out, gin.H{"name": name, "fields": fields, "relationships": rels})
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/_migrations — история леджера.
func MigrationsHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Ledger.History())
	}
}

// POST /api/_migrate — дифф против последнего применённого состояния;
// ?plan=1 только показывает операции, без применения.
func MigrateHandler(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := a.requestCtx(c)
		defer cancel()

		base := migrate.Replay(a.Ledger.History())
		target := a.Reg.Snapshot()
		ops := migrate.Diff(base, target)
		if len(ops) == 0 {
			c.JSON(http.StatusOK, gin.H{"status": "up-to-date"})
			return
		}
		if c.Query("plan") != "" {
			c.JSON(http.StatusOK, gin.H{"status": "plan", "operations": ops})
			return
		}

		rec, err := a.Ledger.Propose(ctx, base, target, ops)
		if err != nil {
			fail(c, err)
			return
		}
		if err := a.Ledger.Apply(ctx, rec.Seq); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "applied", "seq": rec.Seq, "operations": ops})
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	}
	return 0
}
