package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort         string
	DBDriver        string
	DBDSN           string
	JWTSecret       string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LogLevel        string
	LogFormat       string
	CORSOrigins     string
	NotifyInterval  time.Duration
	ShutdownTimeout time.Duration
}

var defaults = map[string]any{
	"APP_PORT":         "8080",
	"DB_DRIVER":        "postgres",
	"REDIS_DB":         0,
	"LOG_LEVEL":        "info",
	"LOG_FORMAT":       "text",
	"CORS_ORIGINS":     "http://127.0.0.1:3000, http://localhost:3000",
	"NOTIFY_INTERVAL":  "2s",
	"SHUTDOWN_TIMEOUT": "15s",
}

// Load reads the configuration from the process environment. Call
// godotenv.Load first if a .env file should be honoured.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	// viper only resolves keys it knows about; register the ones without defaults.
	for _, k := range []string{"DB_DSN", "JWT_SECRET", "REDIS_ADDR", "REDIS_PASSWORD"} {
		_ = v.BindEnv(k)
	}

	cfg := Config{
		AppPort:         v.GetString("APP_PORT"),
		DBDriver:        strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:           v.GetString("DB_DSN"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		CORSOrigins:     v.GetString("CORS_ORIGINS"),
		NotifyInterval:  v.GetDuration("NOTIFY_INTERVAL"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing env: DB_DSN")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("missing env: JWT_SECRET")
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return Config{}, errors.New("DB_DRIVER must be postgres or sqlite")
	}
	return cfg, nil
}
