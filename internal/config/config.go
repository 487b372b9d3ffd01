package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	SourceAPI  SourceConfig
	Database   DatabaseConfig
	Server     ServerConfig
	Import     ImportConfig
	PublicHost string
}

type SourceConfig struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
}

type DatabaseConfig struct {
	Path string
}

type ServerConfig struct {
	// Port is the callback proxy port; tenant backends listen on
	// Port+1+index in tenant list order.
	Port int
}

type ImportConfig struct {
	IntervalMinutes int
	DigestCron      string
	SendPacing      time.Duration
	GetterPath      string
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("iac_api", "")
	v.SetDefault("api_user", "")
	v.SetDefault("api_password", "")
	v.SetDefault("api_timeout_seconds", 30)
	v.SetDefault("problembot_db", "problembot.db")
	v.SetDefault("port", 3000)
	v.SetDefault("import_interval", 5)
	v.SetDefault("digest_cron", "0 9 * * *")
	v.SetDefault("send_pacing_ms", 1000)
	v.SetDefault("getter_path", "/api/problems/new")
	v.SetDefault("app_public_host", "")

	port := v.GetInt("port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT: %d", port)
	}

	interval := v.GetInt("import_interval")
	if interval <= 0 {
		interval = 5
	}

	pacing := v.GetInt("send_pacing_ms")
	if pacing < 0 {
		pacing = 0
	}

	baseURL := strings.TrimRight(strings.TrimSpace(v.GetString("iac_api")), "/")
	if baseURL == "" {
		return Config{}, fmt.Errorf("IAC_API is required")
	}

	cfg := Config{
		SourceAPI: SourceConfig{
			BaseURL:  baseURL,
			User:     strings.TrimSpace(v.GetString("api_user")),
			Password: strings.TrimSpace(v.GetString("api_password")),
			Timeout:  time.Duration(v.GetInt("api_timeout_seconds")) * time.Second,
		},
		Database: DatabaseConfig{
			Path: strings.TrimSpace(v.GetString("problembot_db")),
		},
		Server: ServerConfig{Port: port},
		Import: ImportConfig{
			IntervalMinutes: interval,
			DigestCron:      strings.TrimSpace(v.GetString("digest_cron")),
			SendPacing:      time.Duration(pacing) * time.Millisecond,
			GetterPath:      strings.TrimSpace(v.GetString("getter_path")),
		},
		PublicHost: strings.TrimSpace(v.GetString("app_public_host")),
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "problembot.db"
	}
	return cfg, nil
}

func (c Config) ImportInterval() time.Duration {
	return time.Duration(c.Import.IntervalMinutes) * time.Minute
}
