package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr string
	// AuthToken is a static bearer token accepted alongside Firebase tokens.
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// PassConfig controls watch pass bookkeeping.
type PassConfig struct {
	Retention int
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// RedisConfig holds the notification dedupe store. An empty URL disables it.
type RedisConfig struct {
	URL       string
	DedupeTTL time.Duration
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark  BarkConfig
	Redis RedisConfig
}

// AuthConfig selects how Firebase ID tokens are verified. With neither a
// project id nor a local secret, only the static token applies.
type AuthConfig struct {
	FirebaseProjectID string
	JWKSURL           string
	JWKSRefresh       time.Duration
	LocalSecret       string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Passes       PassConfig
	Notification NotificationConfig
	Auth         AuthConfig

	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
	// Mode is one of http, mcp or both.
	Mode string
	// DefaultScope applies to task listings that do not pass scope.
	DefaultScope string
}

const (
	defaultAddr          = "0.0.0.0:7070"
	defaultLogLevel      = "info"
	defaultPassKeep      = 50
	defaultShutdownGrace = 5 * time.Second
	defaultDedupeTTL     = 12 * time.Hour
	defaultJWKSURL       = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	defaultJWKSRefresh   = time.Hour
	defaultMode          = "http"
	defaultScope         = "month"
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse reads configuration for the running process.
func Parse() (*Config, error) {
	// Load .env file if exists (silent fail if not present)
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "taskboard", ".env"))
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	return ParseArgs(os.Args[1:])
}

// ParseArgs builds a Config from args and the environment.
// Priority: CLI flags > Environment variables > .env file > defaults
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("TASKBOARD_ADDR", defaultAddr),
			AuthToken: getEnvString("TASKBOARD_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnvString("TASKBOARD_LOG_LEVEL", defaultLogLevel),
		},
		Passes: PassConfig{
			Retention: getEnvInt("TASKBOARD_PASS_RETENTION", defaultPassKeep),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("TASKBOARD_BARK_URL", ""),
				Enabled: getEnvBool("TASKBOARD_BARK_ENABLED", false),
			},
			Redis: RedisConfig{
				URL:       getEnvString("TASKBOARD_REDIS_URL", ""),
				DedupeTTL: getEnvDuration("TASKBOARD_NOTIFY_DEDUPE_TTL", defaultDedupeTTL),
			},
		},
		Auth: AuthConfig{
			FirebaseProjectID: getEnvString("TASKBOARD_FIREBASE_PROJECT_ID", ""),
			JWKSURL:           getEnvString("TASKBOARD_JWKS_URL", defaultJWKSURL),
			JWKSRefresh:       getEnvDuration("TASKBOARD_JWKS_REFRESH", defaultJWKSRefresh),
			LocalSecret:       getEnvString("TASKBOARD_LOCAL_AUTH_SECRET", ""),
		},
		StateDir:      getEnvString("TASKBOARD_STATE_DIR", ""),
		UseUTC:        getEnvBool("TASKBOARD_USE_UTC", false),
		ShutdownGrace: getEnvDuration("TASKBOARD_SHUTDOWN_GRACE", defaultShutdownGrace),
		Mode:          getEnvString("TASKBOARD_MODE", defaultMode),
		DefaultScope:  getEnvString("TASKBOARD_DEFAULT_SCOPE", defaultScope),
	}

	fs := flag.NewFlagSet("taskboardd", flag.ContinueOnError)
	var addr, logLevel, stateDir, mode string
	var passKeep int
	var useUTC bool
	var shutdownGrace time.Duration

	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store the board database")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&mode, "mode", "", "Serving mode (http, mcp, both)")
	fs.BoolVar(&useUTC, "use-utc", false, "Use UTC for month windows and cron evaluation instead of system local time")
	fs.IntVar(&passKeep, "pass-keep", 0, "Number of recent passes to retain per watch")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Apply CLI flags if set (they take precedence)
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if passKeep > 0 {
		cfg.Passes.Retention = passKeep
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if mode != "" {
		cfg.Mode = mode
	}
	// For bool flags, check if explicitly set via Visit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q (valid: http, mcp, both)", cfg.Mode)
	}
	switch cfg.DefaultScope {
	case "month", "all":
	default:
		return nil, fmt.Errorf("invalid default scope %q (valid: month, all)", cfg.DefaultScope)
	}
	if cfg.Notification.Bark.Enabled && cfg.Notification.Bark.URL == "" {
		return nil, fmt.Errorf("bark is enabled but TASKBOARD_BARK_URL is empty")
	}

	// Resolve state dir if not set
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	// Ensure retention is valid
	if cfg.Passes.Retention < 1 {
		cfg.Passes.Retention = defaultPassKeep
	}
	if cfg.Notification.Redis.DedupeTTL <= 0 {
		cfg.Notification.Redis.DedupeTTL = defaultDedupeTTL
	}

	return cfg, nil
}

// Location returns the zone used for month windows and cron schedules.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "taskboard")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
