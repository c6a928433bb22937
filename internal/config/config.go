package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the bridge.
type Config struct {
	Server     Server         `mapstructure:"server"`
	MQTT       MQTT           `mapstructure:"mqtt"`
	Firestore  Firestore      `mapstructure:"firestore"`
	Redis      Redis          `mapstructure:"redis"`
	Email      Email          `mapstructure:"email"`
	Router     Router         `mapstructure:"router"`
	Dispatcher Dispatcher     `mapstructure:"dispatcher"`
	Retry      retry.Strategy `mapstructure:"retry"`
	Workers    struct {
		Count int `mapstructure:"count" validate:"min=1"` // number of telemetry worker goroutines
	} `mapstructure:"workers"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port" validate:"required"` // HTTP port to listen on
}

// MQTT holds broker connection parameters and the telemetry topic prefix.
type MQTT struct {
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id" validate:"required"`
	TopicPrefix string `mapstructure:"topic_prefix" validate:"required"`
}

// Firestore holds record store credentials.
type Firestore struct {
	ProjectID       string `mapstructure:"project_id" validate:"required"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Redis holds connection parameters for the subscriber cache.
type Redis struct {
	Address      string        `mapstructure:"address" validate:"required"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	UserCacheTTL time.Duration `mapstructure:"user_cache_ttl"`
}

// Email holds SMTP configuration for sending notification mail.
type Email struct {
	SMTPHost string `mapstructure:"smtp_host" validate:"required"`
	SMTPPort string `mapstructure:"smtp_port" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required"`
}

// Router holds telemetry routing policy.
type Router struct {
	// LowFoodThreshold is the weight (grams) at or below which a weight
	// report triggers a low-food alert.
	LowFoodThreshold float64 `mapstructure:"low_food_threshold"`
}

// Dispatcher holds the scheduled-command dispatcher settings.
type Dispatcher struct {
	Interval time.Duration `mapstructure:"interval" validate:"required"` // tick between due-schedule sweeps
}

// BrokerURL returns the MQTT broker URL in ssl://host:port format.
func (m MQTT) BrokerURL() string {
	return fmt.Sprintf("ssl://%s:%d", m.Host, m.Port)
}

// mustBindEnv binds critical environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"mqtt.host":     "MQTT_HOST",
		"mqtt.port":     "MQTT_PORT",
		"mqtt.username": "MQTT_USERNAME",
		"mqtt.password": "MQTT_PASSWORD",

		"firestore.project_id":       "FIRESTORE_PROJECT_ID",
		"firestore.credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",

		"redis.address":  "REDIS_ADDRESS",
		"redis.password": "REDIS_PASSWORD",
		"redis.database": "REDIS_DATABASE",

		"email.smtp_host": "SMTP_HOST",
		"email.smtp_port": "SMTP_PORT",
		"email.username":  "SMTP_USER",
		"email.password":  "SMTP_PASS",
		"email.from":      "SMTP_FROM",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// Must loads and validates the configuration from file and environment variables.
//
// It panics if configuration cannot be read, unmarshalled, or validated.
func Must() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msg("invalid config")
	}

	return &cfg
}
