package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// MpesaConfig holds push-payment gateway credentials. An empty
// ConsumerKey selects the simulated gateway.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
}

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string
	LegacyEncryptKeys  []string

	UploadDir   string
	CORSOrigins []string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Mpesa            MpesaConfig
	BaseURL          string
	GatewayTimeout   time.Duration
	SimulatePayments bool
	SimulationDelay  time.Duration
	CallbackWait     time.Duration
	OnlineWindow     time.Duration
}

// Load reads configuration from the environment, after merging a .env
// file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "postgres"), getEnv("POSTGRES_PASSWORD", "postgres")),
		Host:     fmt.Sprintf("%s:%s", getEnv("POSTGRES_HOST", "localhost"), getEnv("POSTGRES_PORT", "5432")),
		Path:     getEnv("POSTGRES_DB", "househunter"),
		RawQuery: "sslmode=" + getEnv("POSTGRES_SSLMODE", "disable"),
	}

	env := getEnv("APP_ENV", "development")
	cfg := &Config{
		AppName: getEnv("APP_NAME", "House Hunter API"),
		Env:     env,
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "househunter.db"),
		DatabaseURL: u.String(),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),
		LegacyEncryptKeys:  getEnvAsList("LEGACY_ENCRYPTION_KEYS", nil),

		UploadDir:   getEnv("UPLOAD_DIR", "media"),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		Mpesa: MpesaConfig{
			BaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      getEnv("MPESA_SHORTCODE", "174379"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
		},
		BaseURL:          strings.TrimRight(getEnv("BASE_URL", "http://localhost:8000"), "/"),
		GatewayTimeout:   getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
		SimulatePayments: getEnvAsBool("SIMULATE_PAYMENTS", env == "development"),
		SimulationDelay:  getEnvAsDuration("SIMULATION_DELAY", 10*time.Second),
		CallbackWait:     getEnvAsDuration("CALLBACK_WAIT", 5*time.Second),
		OnlineWindow:     getEnvAsDuration("ONLINE_WINDOW", 5*time.Minute),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CallbackURL is where the gateway posts asynchronous payment results.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/api/payments/callback/"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LogFields describes the effective configuration without secrets.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("environment", c.Env),
		zap.String("http_addr", c.HTTPAddr()),
		zap.String("db_driver", c.DBDriver),
		zap.Bool("redis_channel_layer", c.RedisAddr != ""),
		zap.Bool("mpesa_configured", c.Mpesa.ConsumerKey != ""),
		zap.Bool("simulate_payments", c.SimulatePayments),
		zap.Duration("gateway_timeout", c.GatewayTimeout),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvAsList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
