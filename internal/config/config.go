package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server struct {
		Port           int      `mapstructure:"port"`
		Mode           string   `mapstructure:"mode"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`
	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Lottery struct {
		RoundWindow        time.Duration `mapstructure:"round_window"`
		TickInterval       time.Duration `mapstructure:"tick_interval"`
		EntryIncrement     int64         `mapstructure:"entry_increment"`
		HistoryLimit       int           `mapstructure:"history_limit"`
		RecentParticipants int           `mapstructure:"recent_participants"`
		StaleDrawAfter     time.Duration `mapstructure:"stale_draw_after"`
	} `mapstructure:"lottery"`
	Ledger struct {
		RPCURL            string        `mapstructure:"rpc_url"`
		TokenAddress      string        `mapstructure:"token_address"`
		CollectionAddress string        `mapstructure:"collection_address"`
		PrivateKey        string        `mapstructure:"private_key"`
		Decimals          int32         `mapstructure:"decimals"`
		Timeout           time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ledger"`
	Admin struct {
		User string `mapstructure:"user"`
		Pass string `mapstructure:"pass"`
	} `mapstructure:"admin"`
	Alerts struct {
		TelegramToken  string `mapstructure:"telegram_token"`
		TelegramChatID int64  `mapstructure:"telegram_chat_id"`
	} `mapstructure:"alerts"`
	Log struct {
		Verbose bool   `mapstructure:"verbose"`
		File    string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// legacyEnv maps config keys to the variable names deployments already use.
var legacyEnv = map[string]string{
	"server.port":               "PORT",
	"database.dsn":              "DATABASE_URL",
	"ledger.rpc_url":            "RPC_URL",
	"ledger.token_address":      "TOKEN_ADDRESS",
	"ledger.collection_address": "COLLECTION_ADDRESS",
	"ledger.private_key":        "ADMIN_PRIVATE_KEY",
	"admin.user":                "ADMIN_USER",
	"admin.pass":                "ADMIN_PASS",
	"alerts.telegram_token":     "TELEGRAM_TOKEN",
	"alerts.telegram_chat_id":   "TELEGRAM_CHAT_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "lottery.db")
	v.SetDefault("lottery.round_window", 15*time.Minute)
	v.SetDefault("lottery.tick_interval", time.Minute)
	v.SetDefault("lottery.entry_increment", 10000)
	v.SetDefault("lottery.history_limit", 20)
	v.SetDefault("lottery.recent_participants", 10)
	v.SetDefault("lottery.stale_draw_after", 10*time.Minute)
	v.SetDefault("ledger.decimals", 18)
	v.SetDefault("ledger.timeout", 2*time.Minute)
	v.SetDefault("log.verbose", false)
}

// Load reads .env (if present), the optional config file at path, and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warningf("Ignoring unreadable .env file: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid database.driver %q", c.Database.Driver)
	}
	if c.Lottery.RoundWindow <= 0 {
		return errors.New("lottery.round_window must be positive")
	}
	if c.Lottery.TickInterval <= 0 {
		return errors.New("lottery.tick_interval must be positive")
	}
	if c.Lottery.EntryIncrement <= 0 {
		return errors.New("lottery.entry_increment must be positive")
	}
	if c.Ledger.Timeout <= 0 {
		return errors.New("ledger.timeout must be positive")
	}
	if c.Lottery.StaleDrawAfter <= c.Ledger.Timeout {
		return errors.New("lottery.stale_draw_after must exceed ledger.timeout")
	}
	return nil
}
