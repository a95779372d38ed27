package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

type LoanConfig struct {
	PeriodDays     int
	PickupTTLHours int
	FineDailyRate  int64
	MaxActiveLoans int
}

type AppConfig struct {
	Port     string
	Postgres PostgresConfig
	Redis    RedisConfig
	S3       S3Config
	Loan     LoanConfig

	CatalogBaseURL string

	// ProofStorage selects the proof backend: "s3" or "local".
	ProofStorage      string
	ProofDir          string
	FilesPublicPrefix string
	ExternalURL       string

	SchedulerInterval time.Duration
	Debug             bool
}

func (c LoanConfig) Period() time.Duration {
	return time.Duration(c.PeriodDays) * 24 * time.Hour
}

func (c LoanConfig) PickupTTL() time.Duration {
	return time.Duration(c.PickupTTLHours) * time.Hour
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func Load() AppConfig {
	return AppConfig{
		Port: getenv("APP_PORT", "8020"),
		Postgres: PostgresConfig{
			Host:     getenv("PG_HOST", "127.0.0.1"),
			Port:     mustAtoi(getenv("PG_PORT", "5432")),
			User:     getenv("PG_USER", "root"),
			Password: getenv("PG_PASSWORD", ""),
			DBName:   getenv("PG_DB", "libcirc"),
			SSLMode:  getenv("PG_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "libcirc_"),
		},
		S3: S3Config{
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "proofs"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", ""),
		},
		Loan: LoanConfig{
			PeriodDays:     mustAtoi(getenv("LOAN_PERIOD_DAYS", "7")),
			PickupTTLHours: mustAtoi(getenv("PICKUP_CODE_TTL_HOURS", "24")),
			FineDailyRate:  int64(mustAtoi(getenv("FINE_DAILY_RATE", "5000"))),
			MaxActiveLoans: mustAtoi(getenv("MAX_ACTIVE_LOANS", "3")),
		},

		CatalogBaseURL: getenv("CATALOG_BASE_URL", "http://127.0.0.1:8021"),

		ProofStorage:      getenv("PROOF_STORAGE", "local"),
		ProofDir:          getenv("PROOF_DIR", "./proofs"),
		FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files/proofs"),
		ExternalURL:       getenv("EXTERNAL_URL", ""),

		SchedulerInterval: time.Duration(mustAtoi(getenv("SCHEDULER_INTERVAL_SECONDS", "60"))) * time.Second,
		Debug:             mustBool(getenv("APP_DEBUG", "false")),
	}
}
