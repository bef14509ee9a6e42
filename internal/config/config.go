package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// QueueBatchSize caps how many due queue entries a single processing run
// will attempt. One run must stay inside the host-imposed time limit.
const QueueBatchSize = 50

// Config holds all environment-driven settings for the automation service.
type Config struct {
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// SMTP / delivery provider
	SMTPHost         string
	SMTPPort         string
	SMTPUser         string
	SMTPPass         string
	DefaultFromEmail string
	AdminEmail       string

	// Site settings used when building template variables
	SiteURL string

	// Optional bearer token required by the queue-processing endpoint
	ProcessToken string

	// Cron schedules for the background jobs
	QueueCronSpec  string
	ResumeCronSpec string

	BatchSize int
}

// Load reads configuration from the environment, loading a .env file first
// if one is present. Missing optional values fall back to logged defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from environment")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBHost:           os.Getenv("DB_HOST"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           os.Getenv("DB_USER"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		DBName:           os.Getenv("DB_NAME"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getEnv("SMTP_PORT", "587"),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPass:         os.Getenv("SMTP_PASS"),
		DefaultFromEmail: getEnv("DEFAULT_FROM_EMAIL", "noreply@example.com"),
		AdminEmail:       getEnv("ADMIN_EMAIL", "admin@example.com"),
		SiteURL:          getEnv("SITE_URL", "https://example.com"),
		ProcessToken:     os.Getenv("QUEUE_PROCESS_TOKEN"),
		QueueCronSpec:    getEnv("QUEUE_CRON", "*/1 * * * *"),
		ResumeCronSpec:   getEnv("RESUME_CRON", "*/1 * * * *"),
		BatchSize:        QueueBatchSize,
	}

	if v := os.Getenv("QUEUE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("Invalid QUEUE_BATCH_SIZE %q, using default %d", v, QueueBatchSize)
		} else {
			cfg.BatchSize = n
		}
	}

	if cfg.SMTPHost == "" {
		log.Println("Warning: SMTP_HOST not configured. Queue processing will fail pending entries until it is set.")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	log.Printf("%s not set, using default: %s", key, fallback)
	return fallback
}
