package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/crowdreach/automation/internal/config"
	"github.com/crowdreach/automation/internal/models"
)

var DB *gorm.DB

// ConnectDatabase opens the postgres connection and migrates the schema.
func ConnectDatabase(cfg *config.Config) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})

	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Database connection established")

	if err := Migrate(DB); err != nil {
		log.Fatalf("Failed to auto-migrate database schema: %v", err)
	}
	log.Println("Database schema migration completed.")
}

// Migrate creates or updates the tables this core reads and writes. It will
// not drop columns it no longer knows about.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Workflow{},
		&models.Action{},
		&models.Execution{},
		&models.ExecutionStep{},
		&models.QueueEntry{},
		&models.Template{},
		&models.Contact{},
		&models.EmailLog{},
	)
}

// GetDB returns the gorm database instance
func GetDB() *gorm.DB {
	return DB
}
