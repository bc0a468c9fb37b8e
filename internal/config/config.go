package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string
	DBDSN           string
	MediaDir        string
	LogFile         string
	LogLevel        string
	BaseURL         string
	MaxBodyBytes    int
	MaxPictureBytes int
	SeedUsers       bool
	MetricsEnabled  bool
	// RateLimit is requests per minute per client IP; LoginRateLimit is
	// login attempts per ten minutes.
	RateLimit       int
	LoginRateLimit  int

	Stripe   StripeConfig
	Donation DonationConfig
	MinIO    MinIOConfig
	NATS     NATSConfig
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	// FailOpen renders the listings page without a checkout session when the
	// provider errors instead of failing the request.
	FailOpen bool
}

// DonationConfig is the fixed line item offered on the listings page.
type DonationConfig struct {
	Amount   int64 // minor units
	Currency string
	Name     string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_dsn", "musicmarket.db")
	v.SetDefault("media_dir", "./web/media")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("max_body_bytes", 8<<20)
	v.SetDefault("max_picture_bytes", 5<<20)
	v.SetDefault("seed_users", true)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("rate_limit", 120)
	v.SetDefault("login_rate_limit", 5)

	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_publishable_key", "")
	v.SetDefault("payments_fail_open", true)
	v.SetDefault("donation_amount", 1000)
	v.SetDefault("donation_currency", "aud")
	v.SetDefault("donation_name", "Donate to Musician Marketplace!")

	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "listing-pictures")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", "listings")
}

// Load reads configuration from an optional .env file, the environment and an
// optional file named by CONFIG_FILE. Environment values win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:            v.GetString("port"),
		DBDSN:           v.GetString("db_dsn"),
		MediaDir:        v.GetString("media_dir"),
		LogFile:         v.GetString("log_file"),
		LogLevel:        v.GetString("log_level"),
		BaseURL:         strings.TrimRight(v.GetString("base_url"), "/"),
		MaxBodyBytes:    v.GetInt("max_body_bytes"),
		MaxPictureBytes: v.GetInt("max_picture_bytes"),
		SeedUsers:       v.GetBool("seed_users"),
		MetricsEnabled:  v.GetBool("metrics_enabled"),
		RateLimit:       v.GetInt("rate_limit"),
		LoginRateLimit:  v.GetInt("login_rate_limit"),
		Stripe: StripeConfig{
			SecretKey:      v.GetString("stripe_secret_key"),
			PublishableKey: v.GetString("stripe_publishable_key"),
			FailOpen:       v.GetBool("payments_fail_open"),
		},
		Donation: DonationConfig{
			Amount:   v.GetInt64("donation_amount"),
			Currency: strings.ToLower(v.GetString("donation_currency")),
			Name:     v.GetString("donation_name"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("minio_endpoint"),
			AccessKey: v.GetString("minio_access_key"),
			SecretKey: v.GetString("minio_secret_key"),
			Bucket:    v.GetString("minio_bucket"),
			UseSSL:    v.GetBool("minio_use_ssl"),
		},
		NATS: NATSConfig{
			URL:           v.GetString("nats_url"),
			SubjectPrefix: v.GetString("nats_subject_prefix"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Donation.Amount <= 0 {
		return errors.New("config: DONATION_AMOUNT must be positive")
	}
	if len(c.Donation.Currency) != 3 {
		return errors.New("config: DONATION_CURRENCY must be a 3-letter ISO code")
	}
	if c.MaxPictureBytes <= 0 || c.MaxPictureBytes > c.MaxBodyBytes {
		return errors.New("config: MAX_PICTURE_BYTES must be positive and fit in MAX_BODY_BYTES")
	}
	if c.RateLimit <= 0 || c.LoginRateLimit <= 0 {
		return errors.New("config: RATE_LIMIT and LOGIN_RATE_LIMIT must be positive")
	}
	return nil
}

// PaymentsEnabled reports whether a Stripe secret key is configured.
func (c Config) PaymentsEnabled() bool { return c.Stripe.SecretKey != "" }
