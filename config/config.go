package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dripline/store"
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

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

type SMSConfig struct {
	GatewayURL string `json:"gateway_url"`
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"-"`
	FromNumber string `json:"from_number"`
}

type DispatchConfig struct {
	Interval     time.Duration `json:"interval"`
	BatchSize    int           `json:"batch_size"`
	ClaimTimeout time.Duration `json:"claim_timeout"`
	Concurrency  int           `json:"concurrency"`
}

type Config struct {
	Environment    string      `json:"environment"`
	EncryptionKey  string      `json:"-"`
	ServerPort     string      `json:"server_port"`
	DBHost         string      `json:"db_host"`
	DBPort         string      `json:"db_port"`
	DBUser         string      `json:"db_user"`
	DBPassword     string      `json:"-"`
	DBName         string      `json:"db_name"`
	DBSSLMode      string      `json:"db_ssl_mode"`
	DBMaxIdleConns int         `json:"db_max_idle_conns"`
	DBMaxOpenConns int         `json:"db_max_open_conns"`
	Redis          RedisConfig `json:"redis"`
	SMTP           SMTPConfig  `json:"smtp"`
	SMS            SMSConfig   `json:"sms"`

	Dispatch         DispatchConfig `json:"dispatch"`
	DealLockTTL      time.Duration  `json:"deal_lock_ttl"`
	DealLockWait     time.Duration  `json:"deal_lock_wait"`
	JobRetentionDays int            `json:"job_retention_days"`
	RetentionCron    string         `json:"retention_cron"`
	TriggerRateLimit int            `json:"trigger_rate_limit"`

	SentryDSN          string `json:"-"`
	CORSAllowedOrigins string `json:"cors_allowed_origins"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "dripline"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("SMTP_FROM_EMAIL", ""),
			FromName:  getEnv("SMTP_FROM_NAME", ""),
		},
		SMS: SMSConfig{
			GatewayURL: getEnv("SMS_GATEWAY_URL", ""),
			AccountSID: getEnv("SMS_ACCOUNT_SID", ""),
			AuthToken:  getEnv("SMS_AUTH_TOKEN", ""),
			FromNumber: getEnv("SMS_FROM_NUMBER", ""),
		},
		Dispatch: DispatchConfig{
			Interval:     getEnvAsDuration("DISPATCH_INTERVAL", 30*time.Second),
			BatchSize:    getEnvAsInt("DISPATCH_BATCH_SIZE", 100),
			ClaimTimeout: getEnvAsDuration("DISPATCH_CLAIM_TIMEOUT", 10*time.Minute),
			Concurrency:  getEnvAsInt("DISPATCH_CONCURRENCY", 4),
		},
		DealLockTTL:      getEnvAsDuration("DEAL_LOCK_TTL", 30*time.Second),
		DealLockWait:     getEnvAsDuration("DEAL_LOCK_WAIT", 5*time.Second),
		JobRetentionDays: getEnvAsInt("JOB_RETENTION_DAYS", 90),
		RetentionCron:    getEnv("RETENTION_CRON", "@daily"),
		TriggerRateLimit: getEnvAsInt("TRIGGER_RATE_LIMIT", 120),

		SentryDSN:          getEnv("SENTRY_DSN", ""),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	if err := AppConfig.Validate(); err != nil {
		return err
	}
	logConfig()
	return nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.DealLockTTL <= c.DealLockWait {
		return fmt.Errorf("DEAL_LOCK_TTL (%s) must be longer than DEAL_LOCK_WAIT (%s)", c.DealLockTTL, c.DealLockWait)
	}
	if c.JobRetentionDays <= 0 {
		return fmt.Errorf("JOB_RETENTION_DAYS must be positive")
	}
	if c.Environment == "production" && c.SMTP.Host == "" {
		return fmt.Errorf("SMTP_HOST is required in production")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

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

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := AppConfig.DSN()
	logrus.WithField("dsn", maskPassword(dsn)).Info("Using connection string")

	logLevel := gormlogger.Warn
	if AppConfig.IsProduction() {
		logLevel = gormlogger.Error
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		// Needed so unique index violations surface as gorm.ErrDuplicatedKey.
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(logLevel),
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
	logrus.Info("✅ Successfully connected to the database")

	logrus.Info("🔄 Starting database migration...")
	if err := store.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("✅ Database migration completed")
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
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
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

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":    AppConfig.Environment,
		"server_port":    AppConfig.ServerPort,
		"database":       fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis":          AppConfig.Redis.Enabled,
		"smtp":           AppConfig.SMTP.Host != "",
		"sms":            AppConfig.SMS.GatewayURL != "",
		"dispatch_every": AppConfig.Dispatch.Interval,
	}).Info("🔧 Loaded configuration")
}
