package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ReadConfig reads config.yaml from the working directory, overlaid with
// environment variables (scan.interval_seconds -> SCAN_INTERVAL_SECONDS).
func ReadConfig() (Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msg("No config file found, continuing with env and defaults")
		} else {
			// Config file was found but another error was produced
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.interval_seconds", 12)
	v.SetDefault("scan.concurrency", 4)

	v.SetDefault("catalog.base_url", "https://api-sandbox.byu.edu:443/domains/legacy/academic/classschedule/coursesection/v2")
	v.SetDefault("catalog.term", "20231")
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.timeout_seconds", 10)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.connection_string", "coursechange.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "pgdb")
	v.SetDefault("database.postgres.max_open_conns", 10)
	v.SetDefault("database.postgres.insecure", true)
	v.SetDefault("database.firestore.project_id", "")
	v.SetDefault("database.firestore.credentials_file", "")
	v.SetDefault("database.firestore.section_collection_id", "sections")
	v.SetDefault("database.firestore.user_collection_id", "users")

	v.SetDefault("notifications.type", "noop")
	v.SetDefault("notifications.timeout_seconds", 15)
	v.SetDefault("notifications.emailsmtp.host", "smtp.gmail.com")
	v.SetDefault("notifications.emailsmtp.port", 587)
	v.SetDefault("notifications.emailsmtp.username", "")
	v.SetDefault("notifications.emailsmtp.password", "")
	v.SetDefault("notifications.emailsmtp.from", "")
	v.SetDefault("notifications.emailsmtp.auth", "plain")
	v.SetDefault("notifications.emailsmtp.client_id", "")
	v.SetDefault("notifications.emailsmtp.client_secret", "")
	v.SetDefault("notifications.emailsmtp.refresh_token", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func (c Config) Validate() error {
	if c.Scan.IntervalSeconds <= 0 {
		return errors.New("scan.interval_seconds must be a positive integer")
	}
	if c.Scan.Concurrency <= 0 {
		return errors.New("scan.concurrency must be a positive integer")
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url cannot be empty")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return errors.New("catalog.timeout_seconds must be a positive integer")
	}
	if c.Notifications.TimeoutSeconds <= 0 {
		return errors.New("notifications.timeout_seconds must be a positive integer")
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "firestore":
	default:
		return fmt.Errorf("invalid database type %q", c.Database.Type)
	}

	switch c.Notifications.Type {
	case "noop":
	case "smtp":
		switch c.Notifications.EmailSmtp.Auth {
		case "plain", "xoauth2":
		default:
			return fmt.Errorf("invalid smtp auth %q", c.Notifications.EmailSmtp.Auth)
		}
		if c.Notifications.EmailSmtp.From == "" {
			return errors.New("notifications.emailsmtp.from cannot be empty")
		}
	default:
		return fmt.Errorf("invalid notifications type %q", c.Notifications.Type)
	}

	return nil
}
