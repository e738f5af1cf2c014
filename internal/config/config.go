package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/vbonduro/cubby/internal/domain"
)

type Config struct {
	ListenAddr   string `env:"LISTEN_ADDR"      env-default:":8080"`
	DataDir      string `env:"DATA_DIR"         env-default:"/data"`
	LegacyDBPath string `env:"LEGACY_DB_PATH"`
	PhotoPath    string `env:"PHOTO_LOCAL_PATH" env-default:"/data/photos"`
	LogLevel     string `env:"LOG_LEVEL"        env-default:"info"`
	LogFile      string `env:"LOG_FILE"`

	CloudSyncEnabled       bool   `env:"CLOUD_SYNC_ENABLED"       env-default:"true"`
	CloudBackend           string `env:"CLOUD_BACKEND"            env-default:"memory"`
	CloudContainerID       string `env:"CLOUD_CONTAINER_ID"       env-default:"iCloud.com.cubby.app"`
	CloudUserID            string `env:"CLOUD_USER_ID"`
	CloudForceAvailability string `env:"CLOUD_FORCE_AVAILABILITY"`
	RedisAddr              string `env:"REDIS_ADDR"               env-default:"localhost:6379"`
	RedisPassword          string `env:"REDIS_PASSWORD"`

	SyncPollInterval time.Duration `env:"SYNC_POLL_INTERVAL" env-default:"30s"`
	MergeDebounce    time.Duration `env:"MERGE_DEBOUNCE"     env-default:"200ms"`

	EmojiBackend string `env:"EMOJI_BACKEND"  env-default:"none"`
	ClaudeAPIKey string `env:"CLAUDE_API_KEY"`
	ClaudeModel  string `env:"CLAUDE_MODEL"   env-default:"claude-haiku-4-5"`
	OllamaHost   string `env:"OLLAMA_HOST"    env-default:"http://localhost:11434"`
	OllamaModel  string `env:"OLLAMA_MODEL"   env-default:"llama3.2"`

	TestMode bool `env:"CUBBY_TEST_MODE"`
}

// Load reads the configuration from the environment, falling back to the
// env-default tags.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if cfg.LegacyDBPath == "" {
		cfg.LegacyDBPath = cfg.DataDir + string(os.PathSeparator) + "Legacy.sqlite"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.CloudBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CLOUD_BACKEND must be memory or redis, got %q", c.CloudBackend)
	}
	switch c.EmojiBackend {
	case "none", "ollama":
	case "claude":
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required when EMOJI_BACKEND=claude")
		}
	default:
		return fmt.Errorf("EMOJI_BACKEND must be none, claude or ollama, got %q", c.EmojiBackend)
	}
	if _, err := c.AvailabilityOverride(); err != nil {
		return err
	}
	if c.SyncPollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive")
	}
	if c.MergeDebounce < 0 {
		return fmt.Errorf("MERGE_DEBOUNCE must not be negative")
	}
	return nil
}

// AvailabilityOverride parses CLOUD_FORCE_AVAILABILITY. It returns nil when
// no override is configured.
func (c *Config) AvailabilityOverride() (*domain.Availability, error) {
	if c.CloudForceAvailability == "" {
		return nil, nil
	}
	a, err := domain.ParseAvailability(c.CloudForceAvailability)
	if err != nil {
		return nil, fmt.Errorf("CLOUD_FORCE_AVAILABILITY: %w", err)
	}
	return &a, nil
}
