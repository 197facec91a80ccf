package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the application configuration, loaded from config.yaml and
// overridden by environment variables.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	SSLCommerz SSLCommerzConfig `mapstructure:"sslcommerz"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// AppConfig holds HTTP server and frontend settings
type AppConfig struct {
	Port         string `mapstructure:"port"`
	Env          string `mapstructure:"env"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
	// BaseURL is the public URL the gateway calls back on.
	BaseURL string `mapstructure:"baseUrl"`
	// FrontendURL is where browser callbacks redirect after payment.
	FrontendURL string `mapstructure:"frontendUrl"`
}

// DatabaseConfig holds the PostgreSQL connection settings. An empty DSN
// selects the in-memory store.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the cache settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds the event producer settings
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
}

// SSLCommerzConfig holds the payment gateway credentials
type SSLCommerzConfig struct {
	StoreID       string `mapstructure:"storeId" validate:"required"`
	StorePassword string `mapstructure:"storePassword" validate:"required"`
	Live          bool   `mapstructure:"live"`
}

// AuthConfig holds the JWT verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret" validate:"required"`
}

// Validate checks that the required settings are present
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// CallbackURL builds a gateway callback URL under the public base URL
func (c *AppConfig) CallbackURL(suffix string) string {
	return fmt.Sprintf("%s/api/v1/subscription/sslcommerz/%s", c.BaseURL, suffix)
}

// LoadConfig loads configuration from config.yaml and the environment
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env is a development convenience; missing files are fine.
		_ = godotenv.Load(path)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.readTimeout", 15)
	viper.SetDefault("app.writeTimeout", 15)
	viper.SetDefault("app.baseUrl", "http://localhost:8080")
	viper.SetDefault("app.frontendUrl", "http://localhost:3000")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.SSLCommerz.StoreID == "" {
		config.SSLCommerz.StoreID = os.Getenv("SSLCOMMERZ_STORE_ID")
	}
	if config.SSLCommerz.StorePassword == "" {
		config.SSLCommerz.StorePassword = os.Getenv("SSLCOMMERZ_STORE_PASSWORD")
	}
	if config.Auth.JWTSecret == "" {
		config.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if config.Database.DSN == "" {
		config.Database.DSN = os.Getenv("DATABASE_DSN")
	}

	return &config, nil
}
