/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the treasury-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	JWTSecret                string `mapstructure:"TREASURY_JWT_SECRET"`
	CommissionRateBps        int64  `mapstructure:"COMMISSION_RATE_BPS"`
	DailyWithdrawLimit       int64  `mapstructure:"DAILY_WITHDRAW_LIMIT"`
	PriceValidityMinutes     int    `mapstructure:"PRICE_VALIDITY_WINDOW_MINUTES"`
	RewardPeriodDurationDays int    `mapstructure:"REWARD_PERIOD_DURATION_DAYS"`
	WithdrawWindowHours      int    `mapstructure:"WITHDRAW_WINDOW_HOURS"`
	BatchDepositCap          int    `mapstructure:"BATCH_DEPOSIT_CAP"`
	ClaimRateLimitPerMinute  int    `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
	ReconcileCron            string `mapstructure:"RECONCILE_CRON"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "treasury:rate_limit")
	viper.SetDefault("COMMISSION_RATE_BPS", 500)
	viper.SetDefault("DAILY_WITHDRAW_LIMIT", 10_000)
	viper.SetDefault("PRICE_VALIDITY_WINDOW_MINUTES", 60)
	viper.SetDefault("REWARD_PERIOD_DURATION_DAYS", 7)
	viper.SetDefault("WITHDRAW_WINDOW_HOURS", 24)
	viper.SetDefault("BATCH_DEPOSIT_CAP", 100)
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("RECONCILE_CRON", "*/15 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TREASURY_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TREASURY_JWT_SECRET", "TREASURY_JWT_SECRET", "JWT_SECRET")
	_ = viper.BindEnv("COMMISSION_RATE_BPS")
	_ = viper.BindEnv("DAILY_WITHDRAW_LIMIT")
	_ = viper.BindEnv("PRICE_VALIDITY_WINDOW_MINUTES")
	_ = viper.BindEnv("REWARD_PERIOD_DURATION_DAYS")
	_ = viper.BindEnv("WITHDRAW_WINDOW_HOURS")
	_ = viper.BindEnv("BATCH_DEPOSIT_CAP")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RECONCILE_CRON")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "treasury:rate_limit"
	}

	if config.CommissionRateBps < 0 {
		log.Printf("level=warn component=config msg=\"negative commission rate configured; coercing to zero\" rate_bps=%d", config.CommissionRateBps)
		config.CommissionRateBps = 0
	}
	if config.DailyWithdrawLimit < 0 {
		log.Printf("level=warn component=config msg=\"negative withdraw limit configured; coercing to zero\" limit=%d", config.DailyWithdrawLimit)
		config.DailyWithdrawLimit = 0
	}
	if config.PriceValidityMinutes <= 0 {
		config.PriceValidityMinutes = 60
	}
	if config.RewardPeriodDurationDays <= 0 {
		config.RewardPeriodDurationDays = 7
	}
	if config.WithdrawWindowHours <= 0 {
		config.WithdrawWindowHours = 24
	}
	if config.BatchDepositCap <= 0 {
		config.BatchDepositCap = 100
	}
	if config.ClaimRateLimitPerMinute <= 0 {
		config.ClaimRateLimitPerMinute = 30
	}
	if strings.TrimSpace(config.ReconcileCron) == "" {
		config.ReconcileCron = "*/15 * * * *"
	}

	return
}
