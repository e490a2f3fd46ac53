// Package config reads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EngineVersion is the schema version this build serves.
const EngineVersion = "1.0.0"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr string

	StoreBackend string
	DatabaseURL  string

	// RedisURL selects the Redis snapshot cache; empty keeps snapshots in memory.
	RedisURL    string
	SnapshotTTL time.Duration

	CallerVersion string
	EngineVersion string

	FuzzyThreshold float64
	LineageNodeCap int

	LogLevel  string
	LogFormat string

	TenantsPath     string
	SeedPath        string
	AllowlistPath   string
	AuthzModelPath  string
	AuthzPolicyPath string
}

// Load reads dotenvPath first when it exists (variables already set win), then
// the environment.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", dotenvPath, err)
		}
	}

	c := Config{
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		RedisURL:        os.Getenv("REDIS_URL"),
		EngineVersion:   EngineVersion,
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		LogFormat:       getenvDefault("LOG_FORMAT", "json"),
		TenantsPath:     os.Getenv("TENANTS_PATH"),
		SeedPath:        os.Getenv("GOVERNANCE_SEED_PATH"),
		AllowlistPath:   os.Getenv("ALLOWLIST_PATH"),
		AuthzModelPath:  os.Getenv("AUTHZ_MODEL_PATH"),
		AuthzPolicyPath: os.Getenv("AUTHZ_POLICY_PATH"),
	}
	c.CallerVersion = getenvDefault("METADATA_SDK_VERSION", c.EngineVersion)

	c.StoreBackend = strings.ToLower(os.Getenv("STORE_BACKEND"))
	switch c.StoreBackend {
	case "":
		c.StoreBackend = BackendMemory
		if os.Getenv("DATABASE_URL") != "" || os.Getenv("DB_HOST") != "" {
			c.StoreBackend = BackendPostgres
		}
	case BackendMemory, BackendPostgres:
	default:
		return Config{}, fmt.Errorf("config: STORE_BACKEND=%q (expected memory|postgres)", c.StoreBackend)
	}
	if c.StoreBackend == BackendPostgres {
		c.DatabaseURL = DatabaseURLFromEnv()
	}

	var err error
	if c.SnapshotTTL, err = durationEnv("SNAPSHOT_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if c.FuzzyThreshold, err = floatEnv("ALIAS_FUZZY_THRESHOLD", 0.75); err != nil {
		return Config{}, err
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return Config{}, errors.New("config: ALIAS_FUZZY_THRESHOLD must be in (0,1]")
	}
	if c.LineageNodeCap, err = intEnv("LINEAGE_NODE_CAP", 1000); err != nil {
		return Config{}, err
	}
	if c.LineageNodeCap < 1 {
		return Config{}, errors.New("config: LINEAGE_NODE_CAP must be positive")
	}
	if (c.AuthzModelPath == "") != (c.AuthzPolicyPath == "") {
		return Config{}, errors.New("config: AUTHZ_MODEL_PATH and AUTHZ_POLICY_PATH must be set together")
	}
	return c, nil
}

// DatabaseURLFromEnv prefers DATABASE_URL and otherwise assembles a DSN from DB_* parts.
func DatabaseURLFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getenvDefault("DB_HOST", "127.0.0.1")
	port := getenvDefault("DB_PORT", "5432")
	user := getenvDefault("DB_USER", "app")
	pass := getenvDefault("DB_PASSWORD", "app")
	name := getenvDefault("DB_NAME", "metaregistry")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
