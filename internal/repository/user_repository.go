package repository

import (
	"database/sql"
	"time"

	"anitrack/internal/models"
	"anitrack/internal/timeutil"
)

// UserRepository handles User and session database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(sqliteDB *SQLiteDB) *UserRepository {
	return &UserRepository{db: sqliteDB.db}
}

// Create inserts a new User into the database
func (r *UserRepository) Create(u *models.User) error {
	now := timeutil.Now()
	result, err := r.db.Exec(`
		INSERT INTO users (username, email, password_hash, is_admin, telegram_chat, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.Username, u.Email, u.PasswordHash, u.IsAdmin, u.TelegramChat, now)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	u.CreatedAt = now
	return nil
}

// GetByID retrieves a User by its ID
func (r *UserRepository) GetByID(id int64) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT id, username, email, password_hash, is_admin, telegram_chat, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.TelegramChat, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByUsername retrieves a User by username
func (r *UserRepository) GetByUsername(username string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT id, username, email, password_hash, is_admin, telegram_chat, created_at
		FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.TelegramChat, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateSession stores an opaque bearer token for a user
func (r *UserRepository) CreateSession(token string, userID int64, expiresAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, token, userID, expiresAt, timeutil.Now())
	return err
}

// GetUserByToken resolves a bearer token to its user. Expired sessions
// resolve to nil.
func (r *UserRepository) GetUserByToken(token string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT u.id, u.username, u.email, u.password_hash, u.is_admin, u.telegram_chat, u.created_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, timeutil.Now()).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.TelegramChat, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteSession removes a session token
func (r *UserRepository) DeleteSession(token string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}
