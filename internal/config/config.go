package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Driver string
		Path   string
		DSN    string
	}
	Auth struct {
		JWTSecret       string
		TokenTTLMinutes int
		BcryptCost      int
	}
	Login struct {
		MaxAttempts         int
		LockDurationMinutes int
	}
	Admin struct {
		Username string
		Email    string
		Password string
	}
	Log struct {
		Level string
	}
	Metrics struct {
		Enabled bool
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CARTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/carte.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlminutes", 60*24)
	v.SetDefault("auth.bcryptcost", 10)
	v.SetDefault("login.maxattempts", 3)
	v.SetDefault("login.lockdurationminutes", 15)
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", true)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that cannot be expressed as defaults.
func (c Config) Validate() error {
	if c.Login.MaxAttempts < 1 {
		return fmt.Errorf("login.maxattempts must be at least 1, got %d", c.Login.MaxAttempts)
	}
	if c.Login.LockDurationMinutes < 0 {
		return fmt.Errorf("login.lockdurationminutes must not be negative, got %d", c.Login.LockDurationMinutes)
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.tokenttlminutes must be positive, got %d", c.Auth.TokenTTLMinutes)
	}
	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
