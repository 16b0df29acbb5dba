package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds environment driven configuration values.
// Secrets should never have defaults inside code and must be provided via the config file or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// DebugRoutes registers marker-clearing endpoints
	DebugRoutes bool
	// Gin framework configuration
	GinMode string
	GinPath string
	// Remote goal API
	GoalAPIBaseURL       string
	GoalAPIToken         string
	GoalFetchTimeoutSec  int
	GoalWriteTimeoutSec  int
	GoalDeleteTimeoutSec int
	// Daily routine
	RoutineTimezone string
	CompletionXP    int
	ResetLeaseSec   int
	// Key-value store backend for reset markers and goal snapshots: memory, redis or sql
	MarkerStore string
	// SQL database (used when MarkerStore is sql)
	DBDriver    string
	DBPath      string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis (used when MarkerStore is redis)
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration once during boot.
//
// Precedence: config/config.json or config/config.yaml -> defaults -> environment variable overrides.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	c, err := LoadFrom(findConfigFile())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Used by the CLI after flag overrides and by tests.
func Set(c AppConfig) {
	cfg = c
	loaded = true
}

// LoadFrom builds a configuration from the given file (which may be empty or
// missing), defaults and the environment.
func LoadFrom(path string) (AppConfig, error) {
	var c AppConfig
	if path != "" {
		if err := loadFile(path, &c); err != nil {
			return AppConfig{}, err
		}
	}
	applyDefaults(&c)
	if err := applyEnvOverrides(&c); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

// Location resolves RoutineTimezone, falling back to the process zone.
func (c AppConfig) Location() *time.Location {
	if c.RoutineTimezone == "" || strings.EqualFold(c.RoutineTimezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.RoutineTimezone)
	if err != nil {
		log.Printf("unknown routine timezone %q, using local: %v", c.RoutineTimezone, err)
		return time.Local
	}
	return loc
}

func findConfigFile() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join("config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadFile reads a JSON or YAML file of grouped sections into out. A missing
// file is ignored; a malformed one is an error.
func loadFile(path string, out *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &raw)
	default:
		err = json.Unmarshal(b, &raw)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")
		out.DebugRoutes = getBool(app, "DebugRoutes")
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		out.GinMode = getString(g, "Mode")
		out.GinPath = getString(g, "LogPath")
	}

	if api, ok := raw["goalapi"].(map[string]any); ok {
		out.GoalAPIBaseURL = getString(api, "BaseURL")
		out.GoalAPIToken = getString(api, "Token")
		out.GoalFetchTimeoutSec = getInt(api, "FetchTimeoutSec")
		out.GoalWriteTimeoutSec = getInt(api, "WriteTimeoutSec")
		out.GoalDeleteTimeoutSec = getInt(api, "DeleteTimeoutSec")
	}

	if rt, ok := raw["routine"].(map[string]any); ok {
		out.RoutineTimezone = getString(rt, "Timezone")
		out.CompletionXP = getInt(rt, "CompletionXP")
		out.ResetLeaseSec = getInt(rt, "ResetLeaseSec")
	}

	if st, ok := raw["store"].(map[string]any); ok {
		out.MarkerStore = getString(st, "Backend")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DBPath = getString(dbs, "Path")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}
	return nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case string:
			return t
		case int, float64:
			return fmt.Sprint(t)
		}
	}
	return ""
}

// getInt accepts float64 from JSON and int from YAML.
func getInt(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case string:
			i, _ := strconv.Atoi(t)
			return i
		}
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func getStringSlice(m map[string]any, key string) []string {
	if v, ok := m[key]; ok {
		if arr, ok := v.([]any); ok {
			res := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := it.(string); ok {
					res = append(res, s)
				}
			}
			return res
		}
	}
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.GoalAPIBaseURL == "" {
		c.GoalAPIBaseURL = "http://localhost:3000"
	}
	if c.GoalFetchTimeoutSec == 0 {
		c.GoalFetchTimeoutSec = 15
	}
	if c.GoalWriteTimeoutSec == 0 {
		c.GoalWriteTimeoutSec = 10
	}
	if c.GoalDeleteTimeoutSec == 0 {
		c.GoalDeleteTimeoutSec = 5
	}
	if c.CompletionXP == 0 {
		c.CompletionXP = 10
	}
	if c.ResetLeaseSec == 0 {
		c.ResetLeaseSec = 120
	}
	if c.MarkerStore == "" {
		c.MarkerStore = "sql"
	}
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
	}
	if c.DBPath == "" {
		c.DBPath = "data/goaltrack.db"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "goaltrack"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) error {
	strs := map[string]*string{
		"APP_PORT":          &c.AppPort,
		"JWT_SECRET":        &c.JWTSecret,
		"GIN_MODE":          &c.GinMode,
		"GIN_PATH":          &c.GinPath,
		"GOAL_API_BASE_URL": &c.GoalAPIBaseURL,
		"GOAL_API_TOKEN":    &c.GoalAPIToken,
		"ROUTINE_TIMEZONE":  &c.RoutineTimezone,
		"MARKER_STORE":      &c.MarkerStore,
		"DB_DRIVER":         &c.DBDriver,
		"DB_PATH":           &c.DBPath,
		"DATABASE_URI":      &c.DatabaseURI,
		"DB_HOST":           &c.DBHost,
		"DB_PORT":           &c.DBPort,
		"DB_USER":           &c.DBUser,
		"DB_PASSWORD":       &c.DBPassword,
		"DB_NAME":           &c.DBName,
		"REDIS_HOST":        &c.RedisHost,
		"REDIS_PASSWORD":    &c.RedisPassword,
		"LOG_LEVEL":         &c.LogLevel,
		"LOG_PATH":          &c.LogPath,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RATE_LIMIT_PER_MINUTE":   &c.RateLimitPerMinute,
		"GOAL_FETCH_TIMEOUT_SEC":  &c.GoalFetchTimeoutSec,
		"GOAL_WRITE_TIMEOUT_SEC":  &c.GoalWriteTimeoutSec,
		"GOAL_DELETE_TIMEOUT_SEC": &c.GoalDeleteTimeoutSec,
		"ROUTINE_COMPLETION_XP":   &c.CompletionXP,
		"ROUTINE_RESET_LEASE_SEC": &c.ResetLeaseSec,
		"REDIS_PORT":              &c.RedisPort,
		"REDIS_DB":                &c.RedisDB,
		"LOG_MAX_SIZE_MB":         &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":         &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":        &c.LogMaxAgeDays,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer value %s=%s: %w", key, v, err)
			}
			*dst = i
		}
	}

	if v := os.Getenv("LOG_COMPRESS"); v != "" {
		c.LogCompress = v == "true"
	}
	if v := os.Getenv("DEBUG_ROUTES"); v != "" {
		c.DebugRoutes = v == "true"
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	return nil
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// GoalTimeouts converts the configured seconds into durations.
func (c AppConfig) GoalTimeouts() (read, write, del time.Duration) {
	return time.Duration(c.GoalFetchTimeoutSec) * time.Second,
		time.Duration(c.GoalWriteTimeoutSec) * time.Second,
		time.Duration(c.GoalDeleteTimeoutSec) * time.Second
}
