package repository

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB wraps the database connection
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection with connection pool settings
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite benefits from limited connections due to write locking
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// InitSchema creates the database tables and runs migrations
func (s *SQLiteDB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN DEFAULT FALSE,
		telegram_chat INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS anime (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		alt_name TEXT DEFAULT '',
		genres TEXT DEFAULT '[]',
		type TEXT DEFAULT 'TV',
		episode_count INTEGER DEFAULT 0,
		synopsis TEXT DEFAULT '',
		release_date TEXT DEFAULT '',
		avg_rating REAL DEFAULT 0,
		total_ratings INTEGER DEFAULT 0,
		popularity INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS watch_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		anime_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		episodes_watched INTEGER DEFAULT 0,
		rating INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		notes TEXT DEFAULT '',
		UNIQUE(user_id, anime_id),
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (anime_id) REFERENCES anime(id)
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		anime_id TEXT NOT NULL,
		episode_number INTEGER DEFAULT 0,
		type TEXT NOT NULL,
		schedule_day INTEGER,
		schedule_time TEXT,
		remind_at TIMESTAMP NOT NULL,
		is_active BOOLEAN DEFAULT TRUE,
		is_sent BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_anime_rating ON anime(avg_rating);
	CREATE INDEX IF NOT EXISTS idx_watch_user ON watch_entries(user_id);
	CREATE INDEX IF NOT EXISTS idx_watch_anime ON watch_entries(anime_id);

	-- 复合索引优化调度器的到期扫描
	CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(is_active, is_sent, remind_at);
	CREATE INDEX IF NOT EXISTS idx_reminders_user_active ON reminders(user_id, is_active);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations executes pending database migrations
func (s *SQLiteDB) runMigrations() error {
	// Check if telegram_chat column exists (added after first release)
	var result string
	err := s.db.QueryRow("SELECT telegram_chat FROM users LIMIT 1").Scan(&result)

	if err != nil && err != sql.ErrNoRows {
		return s.migrateTelegramChat()
	}

	return nil
}

// migrateTelegramChat adds the telegram_chat column to users
func (s *SQLiteDB) migrateTelegramChat() error {
	_, err := s.db.Exec(`ALTER TABLE users ADD COLUMN telegram_chat INTEGER DEFAULT 0`)
	return err
}
