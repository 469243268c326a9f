package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	// Auth
	JWTSecret string `mapstructure:"jwt_secret"`

	// Authorization
	Authz AuthzConfig `mapstructure:"authz"`
}

type AuthzConfig struct {
	AdminRoleSlug string `mapstructure:"admin_role_slug"`
	ChangeQueue   string `mapstructure:"change_queue"`
	// SeedAdminUserID is assigned the admin role by the migrate command when set.
	SeedAdminUserID string `mapstructure:"seed_admin_user_id"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present (Local Development Convenience)
	if err := godotenv.Load(); err == nil {
		log.Println("✅ Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("authz.admin_role_slug", "security-admin")
	v.SetDefault("authz.change_queue", "resource_access:queue")

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config") // Look for dev.config.yaml
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("accessctl")

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")

	// Bind authorization settings
	_ = v.BindEnv("authz.admin_role_slug", "AUTHZ_ADMIN_ROLE_SLUG")
	_ = v.BindEnv("authz.change_queue", "AUTHZ_CHANGE_QUEUE")
	_ = v.BindEnv("authz.seed_admin_user_id", "AUTHZ_SEED_ADMIN_USER_ID")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("ℹ️  No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("✅ Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Backfill environment variables for code that reads os.Getenv
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_URL", App.RedisURL)
	setEnvIfEmpty("PORT", App.Port)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
