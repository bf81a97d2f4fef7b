/**
 * @description
 * This package handles the configuration management for the savings-service. It uses the
 * Viper library to read configuration from environment variables and an optional .env
 * file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the savings-service.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	ClerkJWKSURL            string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	ProcessorAPIBaseURL     string `mapstructure:"PROCESSOR_API_BASE_URL"`
	ProcessorAPIKey         string `mapstructure:"PROCESSOR_API_KEY"`
	ProcessorTimeoutSeconds int    `mapstructure:"PROCESSOR_TIMEOUT_SECONDS"`
	Currency                string `mapstructure:"CURRENCY"`
	MaturityJobSchedule     string `mapstructure:"MATURITY_JOB_SCHEDULE"`
	SessionPruneSchedule    string `mapstructure:"SESSION_PRUNE_SCHEDULE"`
	SessionIdleTTLMinutes   int    `mapstructure:"SESSION_IDLE_TTL_MINUTES"`
	// RequireVerifiedBankAccounts blocks deposits from bank accounts that have not passed
	// the micro-deposit challenge.
	RequireVerifiedBankAccounts     bool `mapstructure:"REQUIRE_VERIFIED_BANK_ACCOUNTS"`
	MoneyMovementRateLimitPerMinute int  `mapstructure:"MONEY_MOVEMENT_RATE_LIMIT_PER_MINUTE"`
}

// ProcessorTimeout is the per-call deadline for the payment processor.
func (c Config) ProcessorTimeout() time.Duration {
	return time.Duration(c.ProcessorTimeoutSeconds) * time.Second
}

// SessionIdleTTL is how long an unused user session is kept in memory.
func (c Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8087")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "transfa:savings:rate_limit")
	viper.SetDefault("PROCESSOR_TIMEOUT_SECONDS", 10)
	viper.SetDefault("CURRENCY", "usd")
	viper.SetDefault("MATURITY_JOB_SCHEDULE", "@every 1m")
	viper.SetDefault("SESSION_PRUNE_SCHEDULE", "@every 5m")
	viper.SetDefault("SESSION_IDLE_TTL_MINUTES", 30)
	viper.SetDefault("REQUIRE_VERIFIED_BANK_ACCOUNTS", false)
	viper.SetDefault("MONEY_MOVEMENT_RATE_LIMIT_PER_MINUTE", 20)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SAVINGS_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SAVINGS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PROCESSOR_API_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("PROCESSOR_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("MATURITY_JOB_SCHEDULE")
	_ = viper.BindEnv("SESSION_PRUNE_SCHEDULE")
	_ = viper.BindEnv("SESSION_IDLE_TTL_MINUTES")
	_ = viper.BindEnv("REQUIRE_VERIFIED_BANK_ACCOUNTS")
	_ = viper.BindEnv("MONEY_MOVEMENT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "transfa:savings:rate_limit"
	}
	config.Currency = strings.ToLower(strings.TrimSpace(config.Currency))

	if config.ProcessorTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive processor timeout; using default\" value=%d", config.ProcessorTimeoutSeconds)
		config.ProcessorTimeoutSeconds = 10
	}
	if config.SessionIdleTTLMinutes <= 0 {
		config.SessionIdleTTLMinutes = 30
	}
	if config.MoneyMovementRateLimitPerMinute < 0 {
		config.MoneyMovementRateLimitPerMinute = 0
	}

	if strings.TrimSpace(config.ProcessorAPIBaseURL) == "" {
		return config, fmt.Errorf("PROCESSOR_API_BASE_URL is required")
	}
	config.ProcessorAPIBaseURL = strings.TrimSuffix(strings.TrimSpace(config.ProcessorAPIBaseURL), "/")

	return config, nil
}
