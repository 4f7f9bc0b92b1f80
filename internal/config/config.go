package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port        int
	DatabaseURL string
	RedisAddr   string
	SecretKey   string
	ClientID    string
}

func Load() *Config {
	return &Config{
		Port:        envInt("PORT", 8080),
		DatabaseURL: env("DATABASE_URL", "postgres://metafix:metafix@db:5432/metafix?sslmode=disable"),
		RedisAddr:   env("REDIS_ADDR", "redis:6379"),
		SecretKey:   env("SECRET_KEY", "change-me-in-production"),
		ClientID:    env("PLEX_CLIENT_ID", ""),
	}
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
