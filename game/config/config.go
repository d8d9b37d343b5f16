package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	"github.com/wricardo/mcp-training/tictactoe/logging"
)

// ErrInvalidConfig marks a configuration that failed Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config is the full server configuration.
type Config struct {
	Host  string `env:"HOST" envDefault:"localhost"`
	Port  int    `env:"PORT" envDefault:"8080"`
	Debug bool   `env:"DEBUG"`

	// APIURL is the REST API the stdio MCP server proxies to. Empty means
	// probe http://localhost:<port> and fall back to an internal server.
	APIURL string `env:"API_URL"`

	Log       logging.Config  `envPrefix:"LOG_"`
	Store     StoreConfig     `envPrefix:"STORE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Game      GameConfig      `envPrefix:"GAME_"`
	WebSocket WebSocketConfig `envPrefix:"WS_"`
	Ngrok     NgrokConfig     `envPrefix:"NGROK_"`
}

// StoreConfig picks the persistence backend behind the session store.
type StoreConfig struct {
	Backend     string `env:"BACKEND" envDefault:"memory"`
	SessionsDir string `env:"SESSIONS_DIR" envDefault:"sessions"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string        `env:"ADDR" envDefault:"localhost:6379"`
	Password  string        `env:"PASSWORD"`
	DB        int           `env:"DB" envDefault:"0"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"tictactoe:game:"`
	TTL       time.Duration `env:"TTL" envDefault:"24h"`
}

// GameConfig holds the session lifetime windows.
type GameConfig struct {
	AbandonedLobbyAge time.Duration `env:"ABANDONED_LOBBY_AGE" envDefault:"60m"`
	FinishedRetention time.Duration `env:"FINISHED_RETENTION" envDefault:"10m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
}

// WebSocketConfig sizes the inbound message worker pool.
type WebSocketConfig struct {
	PoolSize int `env:"POOL_SIZE" envDefault:"64"`
}

// NgrokConfig enables the optional public tunnel.
type NgrokConfig struct {
	Enabled   bool   `env:"ENABLED"`
	AuthToken string `env:"AUTHTOKEN"`
	Domain    string `env:"DOMAIN"`
}

// Load reads the given dotenv files (".env" when none are given), then
// parses the environment. Missing dotenv files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", f)
		}
	}
	return Parse()
}

// Parse builds a Config from the current environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	// NGROK_AUTH_TOKEN is accepted as well as NGROK_AUTHTOKEN
	if cfg.Ngrok.AuthToken == "" {
		cfg.Ngrok.AuthToken = os.Getenv("NGROK_AUTH_TOKEN")
	}
	return &cfg, nil
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects out of range values and unknown backends.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Port > 0 && c.Port <= 65535, "port %d is out of range", c.Port)
	check(c.Game.AbandonedLobbyAge > 0, "abandoned lobby age must be positive")
	check(c.Game.FinishedRetention > 0, "finished retention must be positive")
	check(c.Game.SweepInterval > 0, "sweep interval must be positive")
	check(c.WebSocket.PoolSize > 0, "websocket pool size must be positive")

	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		check(c.Store.SessionsDir != "", "sessions dir is required for the file backend")
	case BackendRedis:
		check(c.Redis.Addr != "", "redis addr is required for the redis backend")
		check(c.Redis.TTL > 0, "redis ttl must be positive")
	default:
		check(false, "unknown store backend %q", c.Store.Backend)
	}

	if len(problems) > 0 {
		return errors.Mark(errors.New(strings.Join(problems, "; ")), ErrInvalidConfig)
	}
	return nil
}
