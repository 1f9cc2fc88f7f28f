package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lwie/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type ChapaConfig struct {
	SecretKey     string `json:"-"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"-"`
}

type StripeConfig struct {
	SecretKey     string `json:"-"`
	WebhookSecret string `json:"-"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
}

// Enabled reports whether receipt emails can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

type Config struct {
	Environment    string   `json:"environment"`
	ServerPort     string   `json:"server_port"`
	LogLevel       string   `json:"log_level"`
	SentryDSN      string   `json:"-"`
	JWTSecret      string   `json:"-"`
	AllowedOrigins []string `json:"allowed_origins"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// Payments
	PaymentProvider     string        `json:"payment_provider"` // chapa or stripe
	Chapa               ChapaConfig   `json:"chapa"`
	Stripe              StripeConfig  `json:"stripe"`
	PaymentCallbackURL  string        `json:"payment_callback_url"`
	PaymentReturnURL    string        `json:"payment_return_url"`
	PaymentHTTPTimeout  time.Duration `json:"payment_http_timeout"`
	PaymentPendingTTL   time.Duration `json:"payment_pending_ttl"`
	PaymentSweepEvery   time.Duration `json:"payment_sweep_every"`
	RateLimitInitiate   int           `json:"rate_limit_initiate"`
	FreePosts           int           `json:"free_posts"`
	DefaultPurchasePost int           `json:"default_purchase_posts"`

	Redis RedisConfig `json:"redis"`
	Kafka KafkaConfig `json:"kafka"`
	SMTP  SMTPConfig  `json:"smtp"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

// LoadConfig reads the environment into AppConfig.
func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig(cfg)
	return nil
}

// Load builds a Config from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "lwie"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		PaymentProvider: strings.ToLower(getEnv("PAYMENT_PROVIDER", "chapa")),
		Chapa: ChapaConfig{
			SecretKey:     getEnv("CHAPA_SECRET_KEY", ""),
			BaseURL:       strings.TrimRight(getEnv("CHAPA_BASE_URL", "https://api.chapa.co/v1"), "/"),
			WebhookSecret: getEnv("CHAPA_WEBHOOK_SECRET", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		PaymentCallbackURL:  getEnv("PAYMENT_CALLBACK_URL", "http://localhost:5000/payment/callback"),
		PaymentReturnURL:    getEnv("PAYMENT_RETURN_URL", "http://localhost:3000/payment/success"),
		PaymentHTTPTimeout:  getEnvAsDuration("PAYMENT_HTTP_TIMEOUT", 15*time.Second),
		PaymentPendingTTL:   getEnvAsDuration("PAYMENT_PENDING_TTL", 24*time.Hour),
		PaymentSweepEvery:   getEnvAsDuration("PAYMENT_SWEEP_INTERVAL", 10*time.Minute),
		RateLimitInitiate:   getEnvAsInt("RATE_LIMIT_INITIATE", 10),
		FreePosts:           getEnvAsInt("FREE_POSTS", models.DefaultFreePosts),
		DefaultPurchasePost: getEnvAsInt("DEFAULT_PURCHASED_POSTS", 5),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsList("KAFKA_BOOTSTRAP_SERVERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_PAYMENTS_TOPIC", "successful_payments"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", ""),
		},
	}

	// Validate required configurations
	if cfg.DBPassword == "" {
		return cfg, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.PaymentProvider {
	case "chapa":
		if cfg.Chapa.SecretKey == "" {
			return cfg, fmt.Errorf("CHAPA_SECRET_KEY is required for payment processing")
		}
	case "stripe":
		if cfg.Stripe.SecretKey == "" {
			return cfg, fmt.Errorf("STRIPE_SECRET_KEY is required for payment processing")
		}
	default:
		return cfg, fmt.Errorf("unsupported PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	if cfg.FreePosts < 0 {
		return cfg, fmt.Errorf("FREE_POSTS must not be negative")
	}
	if cfg.DefaultPurchasePost <= 0 {
		return cfg, fmt.Errorf("DEFAULT_PURCHASED_POSTS must be positive")
	}
	if cfg.PaymentHTTPTimeout <= 0 {
		return cfg, fmt.Errorf("PAYMENT_HTTP_TIMEOUT must be positive")
	}
	if cfg.PaymentPendingTTL <= 0 || cfg.PaymentSweepEvery <= 0 {
		return cfg, fmt.Errorf("PAYMENT_PENDING_TTL and PAYMENT_SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

// DSN returns the postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

// ConnectDB opens the postgres pool and migrates the schema.
func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := AppConfig.DSN()
	logrus.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true, // tx_ref collisions surface as gorm.ErrDuplicatedKey
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("Successfully connected to the database, migrating")
	if err := models.AutoMigrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(strings.Trim(part, "\"")); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig(cfg Config) {
	logrus.WithFields(logrus.Fields{
		"environment":      cfg.Environment,
		"server_port":      cfg.ServerPort,
		"database":         fmt.Sprintf("%s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName),
		"payment_provider": cfg.PaymentProvider,
		"redis":            cfg.Redis.Enabled,
		"kafka":            cfg.Kafka.Enabled,
		"smtp":             cfg.SMTP.Enabled(),
		"sentry":           cfg.SentryDSN != "",
	}).Info("Loaded configuration")
}
