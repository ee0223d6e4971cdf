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
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the application-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	AuthJWKSURL              string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience             string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer               string `mapstructure:"AUTH_ISSUER"`
	StripeAPIBaseURL         string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeAPIKey             string `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret      string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	S3Bucket                 string `mapstructure:"S3_BUCKET"`
	S3Region                 string `mapstructure:"S3_REGION"`
	S3AccessKeyID            string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey        string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3Endpoint               string `mapstructure:"S3_ENDPOINT"`
	S3UsePathStyle           bool   `mapstructure:"S3_USE_PATH_STYLE"`
	ApplicationFeeCents      int64  `mapstructure:"APPLICATION_FEE_CENTS"`
	FeeCurrency              string `mapstructure:"FEE_CURRENCY"`
	IntentRateLimitPerMinute int    `mapstructure:"INTENT_RATE_LIMIT_PER_MINUTE"`
	ReconcileSchedule        string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileBatchSize       int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	SignedURLTTLMinutes      int    `mapstructure:"SIGNED_URL_TTL_MINUTES"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeoutSeconds    int    `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	ShutdownGraceSeconds     int    `mapstructure:"SHUTDOWN_GRACE_SECONDS"`
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
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("APPLICATION_FEE_CENTS", 2000)
	viper.SetDefault("FEE_CURRENCY", "usd")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "portal:rate_limit")
	viper.SetDefault("INTENT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("RECONCILE_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("SIGNED_URL_TTL_MINUTES", 15)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 60)
	viper.SetDefault("SHUTDOWN_GRACE_SECONDS", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_API_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("S3_BUCKET")
	_ = viper.BindEnv("S3_REGION")
	_ = viper.BindEnv("S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("S3_ENDPOINT")
	_ = viper.BindEnv("S3_USE_PATH_STYLE")
	_ = viper.BindEnv("APPLICATION_FEE_CENTS")
	_ = viper.BindEnv("APPLICATION_FEE_DOLLARS")
	_ = viper.BindEnv("FEE_CURRENCY")
	_ = viper.BindEnv("INTENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")
	_ = viper.BindEnv("SIGNED_URL_TTL_MINUTES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("REQUEST_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SHUTDOWN_GRACE_SECONDS")

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
		config.RedisRateLimitPrefix = "portal:rate_limit"
	}

	// Allow specifying the fee in whole currency units via APPLICATION_FEE_DOLLARS.
	if viper.IsSet("APPLICATION_FEE_DOLLARS") {
		feeStr := strings.TrimSpace(viper.GetString("APPLICATION_FEE_DOLLARS"))
		if feeStr != "" {
			feeValue, parseErr := strconv.ParseFloat(feeStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid APPLICATION_FEE_DOLLARS\" value=%q err=%v", feeStr, parseErr)
			} else {
				config.ApplicationFeeCents = int64(math.Round(feeValue * 100))
			}
		}
	}

	if config.ApplicationFeeCents < 0 {
		log.Printf("level=warn component=config msg=\"negative application fee configured; coercing to zero\" fee_cents=%d", config.ApplicationFeeCents)
		config.ApplicationFeeCents = 0
	}

	config.FeeCurrency = strings.ToLower(strings.TrimSpace(config.FeeCurrency))
	if config.FeeCurrency == "" {
		config.FeeCurrency = "usd"
	}
	if config.IntentRateLimitPerMinute < 0 {
		config.IntentRateLimitPerMinute = 0
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = 100
	}
	if config.SignedURLTTLMinutes <= 0 {
		config.SignedURLTTLMinutes = 15
	}
	if config.RequestTimeoutSeconds <= 0 {
		config.RequestTimeoutSeconds = 60
	}
	if config.ShutdownGraceSeconds <= 0 {
		config.ShutdownGraceSeconds = 10
	}

	return
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
