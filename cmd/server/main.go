package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"ladoga/internal/api"
	"ladoga/internal/config"
	"ladoga/internal/dsl"
	"ladoga/internal/memstore"
	"ladoga/internal/migrate"
	"ladoga/internal/query"
	"ladoga/internal/reference"
	"ladoga/internal/schema"
	"ladoga/internal/sqlstore"
)

// backend объединяет два контракта, которые реализуют оба хранилища.
type backend interface {
	query.Backend
	migrate.Store
}

func main() {
	cfg := config.LoadWithPath("config.json")
	ctx := context.Background()

	// 1. Enum-справочники
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки enum-справочников: %v", err)
	}
	fmt.Printf("Загружено enum-справочников: %d\n", len(enums))

	// 2. DSL-сущности -> реестр схемы
	entities, err := dsl.LoadAll(cfg.DSLDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки DSL: %v", err)
	}
	reg := schema.NewRegistry(enums)
	for _, e := range entities {
		if _, err := reg.Register(e); err != nil {
			log.Fatalf("Ошибка регистрации %s: %v", e.Name, err)
		}
	}
	if err := reg.Validate(); err != nil {
		log.Fatalf("Схема не прошла проверку: %v", err)
	}
	fmt.Printf("Загружено сущностей: %d\n", len(entities))

	// 3. Хранилище
	var be backend
	switch {
	case cfg.DBURL == "":
		be = memstore.New()
	case strings.HasPrefix(cfg.DBURL, "postgres://") || strings.HasPrefix(cfg.DBURL, "postgresql://"):
		st, err := sqlstore.Open(ctx, cfg.DBURL, reg)
		if err != nil {
			log.Fatalf("Ошибка подключения к postgres: %v", err)
		}
		defer st.Close()
		be = st
	default:
		st, err := sqlstore.OpenSQLite(ctx, cfg.DBURL, reg)
		if err != nil {
			log.Fatalf("Ошибка открытия sqlite: %v", err)
		}
		defer st.Close()
		be = st
	}

	// 4. Леджер миграций
	ledger, err := migrate.OpenLedger(ctx, be)
	if err != nil {
		log.Fatalf("Ошибка открытия леджера миграций: %v", err)
	}

	// In-memory хранилище без миграции пустое, поэтому для него
	// миграцию выполняем всегда.
	if cfg.AutoMigrate || cfg.DBURL == "" {
		if err := autoMigrate(ctx, reg, ledger); err != nil {
			log.Fatalf("Ошибка авто-миграции: %v", err)
		}
	}

	app := &api.App{
		Reg:     reg,
		Engine:  query.NewEngine(reg, be),
		Ledger:  ledger,
		Timeout: cfg.RequestTimeout,
	}

	fmt.Printf("Стартуем сервер Ladoga на :%s...\n", cfg.Port)
	if err := api.RunServer(":"+cfg.Port, app); err != nil {
		log.Fatalf("Сервер остановлен: %v", err)
	}
}

func autoMigrate(ctx context.Context, reg *schema.Registry, ledger *migrate.Ledger) error {
	base := migrate.Replay(ledger.History())
	target := reg.Snapshot()
	ops := migrate.Diff(base, target)
	if len(ops) == 0 {
		fmt.Println("Схема актуальна, миграция не требуется")
		return nil
	}
	rec, err := ledger.Propose(ctx, base, target, ops)
	if err != nil {
		return err
	}
	if err := ledger.Apply(ctx, rec.Seq); err != nil {
		return err
	}
	fmt.Printf("Миграция #%d применена: операций %d\n", rec.Seq, len(ops))
	return nil
}
