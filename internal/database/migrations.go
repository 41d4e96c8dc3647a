package database

import (
	"database/sql"
	"log"
)

// InitSchema creates all tables if they don't exist
func InitSchema(db *sql.DB) error {
	log.Println("Initializing database schema...")

	statements := []string{
		// Append-only ledger event journal. One row per state transition;
		// (component, seq) is the replay order.
		`CREATE TABLE IF NOT EXISTS events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			component VARCHAR(32) NOT NULL,
			seq BIGINT UNSIGNED NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			occurred_at TIMESTAMP(6) NOT NULL,
			payload JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY unique_component_seq (component, seq),
			INDEX idx_component (component),
			INDEX idx_event_type (event_type)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("Warning: %v", err)
			// Continue on error - table might already exist
		}
	}

	log.Println("Database schema initialized")
	return nil
}
