// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the orchestrator.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Timers    TimerConfig     `yaml:"timers"`
	Historian HistorianConfig `yaml:"historian"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServerConfig controls the HTTP listener and logging.
type ServerConfig struct {
	Port           string  `yaml:"port"`
	LogLevel       string  `yaml:"log_level"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	RESTRateLimit  float64 `yaml:"rest_rate_limit"`
	RESTRateBurst  int     `yaml:"rest_rate_burst"`
}

// PostgresConfig holds the database connection. An empty DSN keeps rooms in memory.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the action log connection. An empty address disables it.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	QueueName string `yaml:"queue_name"`
}

// AuthConfig controls token validation. Without key files a fresh key pair
// is generated at startup and tokens die with the process.
type AuthConfig struct {
	TokenExpire    time.Duration `yaml:"token_expire"`
	AllowGuests    bool          `yaml:"allow_guests"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	PublicKeyPath  string        `yaml:"public_key_path"`
}

// SessionConfig tunes per-connection behavior.
type SessionConfig struct {
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`
	WSRateLimit     float64       `yaml:"ws_rate_limit"`
	WSRateBurst     int           `yaml:"ws_rate_burst"`
	QueueSize       int           `yaml:"queue_size"`
}

// TimerConfig holds phase durations in seconds. Speech falls back to the
// room's personalTime when that is set.
type TimerConfig struct {
	Tick              time.Duration `yaml:"tick"`
	DealingCards      int           `yaml:"dealing_cards"`
	GettingKnowMafias int           `yaml:"getting_know_mafias"`
	Speech            int           `yaml:"speech"`
	Night             int           `yaml:"night"`
	Common            int           `yaml:"common"`
	LastWord          int           `yaml:"last_word"`
	Justify           int           `yaml:"justify"`
	Justify2          int           `yaml:"justify2"`
	Voting            int           `yaml:"voting"`
	Voting2           int           `yaml:"voting2"`
	PeopleDecide      int           `yaml:"people_decide"`
}

// HistorianConfig tunes the action log consumer.
type HistorianConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	FlushDelay time.Duration `yaml:"flush_delay"`
	Inactivity time.Duration `yaml:"inactivity"`
}

// NotifyConfig points at the push gateway. An empty URL disables pushes.
type NotifyConfig struct {
	ExpoPushURL string `yaml:"expo_push_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			LogLevel:       "info",
			MetricsEnabled: true,
			RESTRateLimit:  10,
			RESTRateBurst:  20,
		},
		Redis: RedisConfig{QueueName: "mafia_actions"},
		Auth: AuthConfig{
			TokenExpire: 24 * time.Hour,
			AllowGuests: true,
		},
		Session: SessionConfig{
			DisconnectGrace: 30 * time.Second,
			WSRateLimit:     20,
			WSRateBurst:     40,
			QueueSize:       256,
		},
		Timers: DefaultTimers(),
		Historian: HistorianConfig{
			BatchSize:  20,
			FlushDelay: 500 * time.Millisecond,
			Inactivity: 10 * time.Minute,
		},
	}
}

// DefaultTimers returns the stock phase durations.
func DefaultTimers() TimerConfig {
	return TimerConfig{
		Tick:              time.Second,
		DealingCards:      700,
		GettingKnowMafias: 10,
		Speech:            60,
		Night:             40,
		Common:            3,
		LastWord:          60,
		Justify:           150,
		Justify2:          150,
		Voting:            10,
		Voting2:           10,
		PeopleDecide:      150,
	}
}

// Load reads an optional YAML file over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Server.MetricsEnabled = v == "true"
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	} else if os.Getenv("PG_HOST") != "" {
		cfg.Postgres.DSN = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			os.Getenv("PG_HOST"),
			getEnv("PG_PORT", "5432"),
			os.Getenv("PG_DATABASE"),
		)
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB value: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("HISTORIAN_QUEUE_NAME"); v != "" {
		cfg.Redis.QueueName = v
	}

	// TOKEN_EXPIRE_TIME is either a Go duration or whole hours.
	if v := os.Getenv("TOKEN_EXPIRE_TIME"); v != "" {
		d, err := parseDurationOrUnit(v, time.Hour)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_EXPIRE_TIME value: %w", err)
		}
		cfg.Auth.TokenExpire = d
	}
	if v := os.Getenv("PRIVATE_KEY_PATH"); v != "" {
		cfg.Auth.PrivateKeyPath = v
	}
	if v := os.Getenv("PUBLIC_KEY_PATH"); v != "" {
		cfg.Auth.PublicKeyPath = v
	}
	if v := os.Getenv("ALLOW_GUESTS"); v != "" {
		cfg.Auth.AllowGuests = v == "true"
	}

	if v := os.Getenv("DISCONNECT_GRACE"); v != "" {
		d, err := parseDurationOrUnit(v, time.Second)
		if err != nil {
			return fmt.Errorf("invalid DISCONNECT_GRACE value: %w", err)
		}
		cfg.Session.DisconnectGrace = d
	}
	if v := os.Getenv("WS_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid WS_RATE_LIMIT value: %w", err)
		}
		cfg.Session.WSRateLimit = f
	}
	if v := os.Getenv("WS_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WS_RATE_BURST value: %w", err)
		}
		cfg.Session.WSRateBurst = n
	}
	if v := os.Getenv("REST_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid REST_RATE_LIMIT value: %w", err)
		}
		cfg.Server.RESTRateLimit = f
	}

	if v := os.Getenv("HISTORIAN_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Historian.BatchSize = n
		}
	}
	if v := os.Getenv("HISTORIAN_FLUSH_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Historian.FlushDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("GAME_INACTIVITY_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Historian.Inactivity = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("EXPO_PUSH_URL"); v != "" {
		cfg.Notify.ExpoPushURL = v
	}
	return nil
}

// parseDurationOrUnit accepts "90s"-style durations or a bare integer in unit.
func parseDurationOrUnit(v string, unit time.Duration) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(v)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
