package repository

import (
	"database/sql"
	"time"

	"anitrack/internal/models"
	"anitrack/internal/timeutil"
)

// ReminderRepository handles Reminder database operations
type ReminderRepository struct {
	db *sql.DB
}

// NewReminderRepository creates a new ReminderRepository
func NewReminderRepository(sqliteDB *SQLiteDB) *ReminderRepository {
	return &ReminderRepository{db: sqliteDB.db}
}

// Create inserts a new Reminder into the database
func (r *ReminderRepository) Create(rem *models.Reminder) error {
	now := timeutil.Now()
	var day any
	var slot any
	if rem.CustomSchedule != nil {
		day = rem.CustomSchedule.DayOfWeek
		slot = rem.CustomSchedule.Time
	}
	result, err := r.db.Exec(`
		INSERT INTO reminders (user_id, anime_id, episode_number, type, schedule_day, schedule_time, remind_at, is_active, is_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rem.UserID, rem.AnimeID, rem.EpisodeNumber, rem.Type, day, slot, rem.RemindAt, rem.IsActive, rem.IsSent, now)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rem.ID = id
	rem.CreatedAt = now
	return nil
}

const reminderColumns = `id, user_id, anime_id, episode_number, type, schedule_day, schedule_time, remind_at, is_active, is_sent, created_at`

func scanReminder(row interface{ Scan(dest ...any) error }) (*models.Reminder, error) {
	rem := &models.Reminder{}
	var day sql.NullInt64
	var slot sql.NullString
	err := row.Scan(
		&rem.ID, &rem.UserID, &rem.AnimeID, &rem.EpisodeNumber, &rem.Type,
		&day, &slot, &rem.RemindAt, &rem.IsActive, &rem.IsSent, &rem.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if day.Valid && slot.Valid {
		rem.CustomSchedule = &models.CustomSchedule{
			DayOfWeek: int(day.Int64),
			Time:      slot.String,
		}
	}
	return rem, nil
}

// GetByID retrieves a Reminder by its ID
func (r *ReminderRepository) GetByID(id int64) (*models.Reminder, error) {
	rem, err := scanReminder(r.db.QueryRow(`
		SELECT `+reminderColumns+` FROM reminders WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rem, nil
}

// GetActiveByUser retrieves a user's active reminders, soonest first
func (r *ReminderRepository) GetActiveByUser(userID int64) ([]models.Reminder, error) {
	rows, err := r.db.Query(`
		SELECT `+reminderColumns+` FROM reminders
		WHERE user_id = ? AND is_active = TRUE
		ORDER BY remind_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// GetDue retrieves all reminders whose fire time has passed, are active,
// and have not been sent yet.
func (r *ReminderRepository) GetDue(now time.Time) ([]models.Reminder, error) {
	rows, err := r.db.Query(`
		SELECT `+reminderColumns+` FROM reminders
		WHERE is_active = TRUE AND is_sent = FALSE AND remind_at <= ?
		ORDER BY remind_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ClaimSent atomically flips is_sent from false to true. Returns false when
// the reminder was already sent or dismissed, so concurrent ticks cannot
// dispatch the same reminder twice.
func (r *ReminderRepository) ClaimSent(id int64) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE reminders SET is_sent = TRUE
		WHERE id = ? AND is_sent = FALSE AND is_active = TRUE
	`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Dismiss deactivates a reminder owned by the given user. Returns false when
// no matching active reminder exists.
func (r *ReminderRepository) Dismiss(id, userID int64) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE reminders SET is_active = FALSE
		WHERE id = ? AND user_id = ? AND is_active = TRUE
	`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func collectReminders(rows *sql.Rows) ([]models.Reminder, error) {
	var reminders []models.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *rem)
	}
	return reminders, rows.Err()
}
