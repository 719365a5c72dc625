package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"port"`
	Environment        string        `mapstructure:"environment"`
	LogLevel           string        `mapstructure:"log_level"`
	DatabaseURL        string        `mapstructure:"database_url"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	PaymentServiceURL  string        `mapstructure:"payment_service_url"`
	PaymentShopID      string        `mapstructure:"payment_shop_id"`
	PaymentAPIKey      string        `mapstructure:"payment_api_key"`
	ShipmentServiceURL string        `mapstructure:"shipment_service_url"`
	ShippingSyncSpec   string        `mapstructure:"shipping_sync_spec"`
	BumpCharge         time.Duration `mapstructure:"bump_charge"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads config.yaml from the usual places when present and lets
// environment variables override every key.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "fleamarket.db")
	v.SetDefault("jwt_secret", "your-secret-key")
	v.SetDefault("payment_service_url", "http://localhost:5555")
	v.SetDefault("payment_shop_id", "11")
	v.SetDefault("payment_api_key", "")
	v.SetDefault("shipment_service_url", "http://localhost:7000")
	v.SetDefault("shipping_sync_spec", "@every 1m")
	v.SetDefault("bump_charge", "3s")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.IsProduction() && cfg.JWTSecret == "your-secret-key" {
		return nil, errors.New("JWT_SECRET must be set in production")
	}

	return &cfg, nil
}
