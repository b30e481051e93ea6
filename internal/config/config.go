// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config carries every tunable the subsystem needs. It is built once and
// passed into each component at construction; there is no process-wide state.
type Config struct {
	// Root is the directory the .security tree lives under.
	Root string `json:"root"`

	LogLevel string `json:"log_level"` // debug, info, warn, error

	// LockTimeoutMS is the default lease lifetime for acquireLocks.
	LockTimeoutMS int `json:"lock_timeout_ms"`

	// MaxRetries bounds executeAtomic attempts.
	MaxRetries int `json:"max_retries"`

	// RetentionHours is how long terminal checkpoint/transaction records
	// are kept before cleanup may remove them.
	RetentionHours int `json:"retention_hours"`

	// CompressMinBytes is the smallest backup that gets zstd-compressed.
	CompressMinBytes int `json:"compress_min_bytes"`
}

// Default returns the configuration used when no config file is given.
func Default(root string) Config {
	return Config{
		Root:             root,
		LogLevel:         "info",
		LockTimeoutMS:    30000,
		MaxRetries:       1,
		RetentionHours:   24,
		CompressMinBytes: 1024,
	}
}

func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	cfg := Default(".")
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if cfg.Root == "" {
		return Config{}, fmt.Errorf("config %s: root is required", path)
	}
	return cfg, nil
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) RetentionAge() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
