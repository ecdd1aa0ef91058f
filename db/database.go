package db

import (
	"database/sql"
	"fmt"
	"log"

	"EchoFM/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
// Artist/genre tables are migrated by GORM (see AutoMigrateModels); the tracks
// table is owned by the raw-SQL repository and created here.
func InitDB() error {
	if err := createTracksTable(); err != nil {
		return err
	}
	log.Println("Database initialization completed.")
	return nil
}

func createTracksTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS tracks (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		source VARCHAR(32) NOT NULL,
		source_id VARCHAR(128) NOT NULL,
		title VARCHAR(255) NOT NULL,
		duration INT NULL,
		thumbnail_url VARCHAR(767) NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		hls_path VARCHAR(767) NULL,
		bitrates VARCHAR(128) NULL,
		file_size BIGINT NULL,
		genre_id BIGINT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_source_source_id (source, source_id),
		KEY idx_status_updated_at (status, updated_at)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}
	log.Println("Tracks table initialized successfully (or already exists).")
	return nil
}
