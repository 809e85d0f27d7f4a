package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string `json:"port"`
	DSLDir   string `json:"dslDir"`
	EnumsDir string `json:"enumsDir"`

	// DBURL: postgres://... — postgres; путь к файлу или :memory: — sqlite;
	// пусто — in-memory хранилище без персистентности.
	DBURL       string `json:"dbUrl"`
	AutoMigrate bool   `json:"autoMigrate"`

	// RequestTimeout ограничивает любой поход в хранилище из API.
	RequestTimeout        time.Duration `json:"-"`
	RequestTimeoutSeconds int           `json:"requestTimeoutSeconds"`
}

func def() Config {
	return Config{
		Port:                  "8080",
		DSLDir:                "dsl",
		EnumsDir:              "reference/enums",
		DBURL:                 "",
		AutoMigrate:           false,
		RequestTimeoutSeconds: 30,
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги
// командной строки процесса.
func LoadWithPath(jsonPath string) Config {
	return load(jsonPath, os.Args[1:])
}

func load(jsonPath string, args []string) Config {
	cfg := def()

	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	// ENV overrides
	cfg.Port = getenv("LADOGA_PORT", cfg.Port)
	cfg.DSLDir = getenv("LADOGA_DSL_DIR", cfg.DSLDir)
	cfg.EnumsDir = getenv("LADOGA_ENUMS_DIR", cfg.EnumsDir)
	cfg.DBURL = getenv("LADOGA_DB_URL", cfg.DBURL)
	cfg.AutoMigrate = getenvBool("LADOGA_AUTO_MIGRATE", cfg.AutoMigrate)
	if v := getenv("LADOGA_REQUEST_TIMEOUT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutSeconds = n
		}
	}

	// Flags overrides; свежий FlagSet, чтобы перечитывание другого конфига
	// не регистрировало флаги повторно
	fs := flag.NewFlagSet("ladoga", flag.ExitOnError)
	configPath := fs.String("config", jsonPath, "Path to config JSON")
	port := fs.String("port", cfg.Port, "HTTP port")
	dslDir := fs.String("dsl", cfg.DSLDir, "Path to DSL directory")
	enums := fs.String("enums", cfg.EnumsDir, "Path to enums directory")
	db := fs.String("db", cfg.DBURL, "Postgres URL or sqlite path (empty = in-memory)")
	auto := fs.Bool("auto-migrate", cfg.AutoMigrate, "Diff and apply migrations on start")
	_ = fs.Parse(args)

	// если через флаг передали другой конфиг — перечитаем
	if *configPath != jsonPath {
		return load(*configPath, args)
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.DSLDir = strings.TrimSpace(*dslDir)
	cfg.EnumsDir = strings.TrimSpace(*enums)
	cfg.DBURL = strings.TrimSpace(*db)
	cfg.AutoMigrate = *auto

	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 30
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	return cfg
}
