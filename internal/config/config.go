package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	DB        DBConfig                `yaml:"db"`
	Log       LogConfig               `yaml:"log"`
	Auth      AuthConfig              `yaml:"auth"`
	Transport TransportConfig         `yaml:"transport"`
	Redis     RedisConfig             `yaml:"redis"`
	MCP       MCPConfig               `yaml:"mcp"`
	Protocols []protocol.ProtocolType `yaml:"protocols"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"MEETSYNC_SERVER_HOST"`
	Port            int           `yaml:"port" env:"MEETSYNC_SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MEETSYNC_SERVER_SHUTDOWN_TIMEOUT"`
}

type DBConfig struct {
	Path string `yaml:"path" env:"MEETSYNC_DB_PATH"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"MEETSYNC_LOG_LEVEL"`
	File  string `yaml:"file" env:"MEETSYNC_LOG_FILE"`
}

// AuthConfig controls bearer token authentication. Tokens are resolved
// against the api_keys table; Users are seeded into it at startup.
type AuthConfig struct {
	Enabled bool      `yaml:"enabled" env:"MEETSYNC_AUTH_ENABLED"`
	Users   []DevUser `yaml:"users"`
}

// DevUser is a token provisioned from configuration.
type DevUser struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
	Role   string `yaml:"role"`
}

type TransportConfig struct {
	QueueSize      int           `yaml:"queue_size" env:"MEETSYNC_TRANSPORT_QUEUE_SIZE"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"MEETSYNC_TRANSPORT_WRITE_TIMEOUT"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"MEETSYNC_TRANSPORT_MAX_MESSAGE_SIZE"`
}

// RedisConfig enables the presence mirror when URL is set.
type RedisConfig struct {
	URL         string        `yaml:"url" env:"MEETSYNC_REDIS_URL"`
	PresenceTTL time.Duration `yaml:"presence_ttl" env:"MEETSYNC_REDIS_PRESENCE_TTL"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MEETSYNC_MCP_ENABLED"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		DB: DBConfig{
			Path: "meetsync.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		Transport: TransportConfig{
			QueueSize:      64,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 64 << 10,
		},
		Redis: RedisConfig{
			PresenceTTL: 2 * time.Minute,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return LoadFrom(es)
}

// LoadFrom builds the configuration from defaults, the YAML file named by
// MEETSYNC_CONFIG_PATH and then the environment set es. Only variables that
// are present override earlier values.
func LoadFrom(es env.EnvSet) (Config, error) {
	cfg := Default()

	if path := es["MEETSYNC_CONFIG_PATH"]; path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if len(cfg.Protocols) == 0 {
		cfg.Protocols = protocol.DefaultTypes()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Catalog builds the protocol catalog from the configured types.
func (c Config) Catalog() (*protocol.Catalog, error) {
	return protocol.NewCatalog(c.Protocols...)
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db path is required")
	}
	for i, u := range c.Auth.Users {
		if u.Token == "" || u.UserID == "" {
			return fmt.Errorf("auth user %d: token and user_id are required", i)
		}
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
