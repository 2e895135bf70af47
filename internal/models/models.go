package models

import "time"

// WatchStatus represents the state of a watch entry
type WatchStatus string

const (
	StatusPlan      WatchStatus = "plan"
	StatusWatching  WatchStatus = "watching"
	StatusCompleted WatchStatus = "completed"
	StatusOnHold    WatchStatus = "on_hold"
	StatusDropped   WatchStatus = "dropped"
)

// ValidWatchStatus reports whether s is a known watch status.
func ValidWatchStatus(s WatchStatus) bool {
	switch s {
	case StatusPlan, StatusWatching, StatusCompleted, StatusOnHold, StatusDropped:
		return true
	}
	return false
}

// ReminderType represents the type of reminder
type ReminderType string

const (
	ReminderNextEpisode    ReminderType = "next_episode"
	ReminderAnimeStart     ReminderType = "anime_start"
	ReminderCustomSchedule ReminderType = "custom_schedule"
)

// ValidReminderType reports whether t is a known reminder type.
func ValidReminderType(t ReminderType) bool {
	switch t {
	case ReminderNextEpisode, ReminderAnimeStart, ReminderCustomSchedule:
		return true
	}
	return false
}

// RecSource labels which strategy produced a recommendation
type RecSource string

const (
	SourceAI        RecSource = "ai"
	SourceAlgorithm RecSource = "algorithm"
	SourcePopular   RecSource = "popular"
)

// Anime represents a catalog entry
type Anime struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	AltName      string    `json:"alt_name"`
	Genres       []string  `json:"genres"`
	Type         string    `json:"type"` // TV, Movie, OVA, ONA, Special
	EpisodeCount int       `json:"episode_count"`
	Synopsis     string    `json:"synopsis"`
	ReleaseDate  string    `json:"release_date"` // YYYY-MM-DD format
	AvgRating    float64   `json:"avg_rating"`   // derived, recomputed on rating writes
	TotalRatings int       `json:"total_ratings"`
	Popularity   int       `json:"popularity"` // watchlist add counter
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// User represents a registered user
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	TelegramChat int64     `json:"telegram_chat,omitempty"` // delivery target, 0 when unlinked
	CreatedAt    time.Time `json:"created_at"`
}

// WatchEntry is a user's progress record against one anime
type WatchEntry struct {
	ID              int64       `json:"id"`
	UserID          int64       `json:"user_id"`
	AnimeID         int64       `json:"anime_id"`
	Status          WatchStatus `json:"status"`
	EpisodesWatched int         `json:"episodes_watched"`
	Rating          *int        `json:"rating,omitempty"` // 1-10, nil when unrated
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	Notes           string      `json:"notes"`
	Anime           *Anime      `json:"anime,omitempty"` // populated on reads, not stored
}

// CustomSchedule is a weekly slot for custom_schedule reminders
type CustomSchedule struct {
	DayOfWeek int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	Time      string `json:"time"`        // "HH:MM"
}

// Reminder is a scheduled notification tied to an episode or weekly slot
type Reminder struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	AnimeID        string          `json:"anime_id"` // opaque catalog reference, not an enforced FK
	EpisodeNumber  int             `json:"episode_number"`
	Type           ReminderType    `json:"type"`
	CustomSchedule *CustomSchedule `json:"custom_schedule,omitempty"`
	RemindAt       time.Time       `json:"remind_at"`
	IsActive       bool            `json:"is_active"`
	IsSent         bool            `json:"is_sent"`
	CreatedAt      time.Time       `json:"created_at"`
}

// UserProfile is computed from a user's current watch entries on each
// recommendation request. It is never persisted or cached.
type UserProfile struct {
	GenreWeights   map[string]float64
	TypeCounts     map[string]int
	Ratings        []float64
	CompletionRate float64
}

// ProfileSummary is the response shape for the profile used to generate
// recommendations.
type ProfileSummary struct {
	TopGenres      []string `json:"top_genres"`
	AvgRating      float64  `json:"avg_rating"`
	CompletionRate int      `json:"completion_rate"` // percent
}

// Recommendation is a response-only suggestion
type Recommendation struct {
	Anime      Anime     `json:"anime"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"` // 0-1
	Source     RecSource `json:"source"`
}
