package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"anitrack/internal/models"
	"anitrack/internal/repository"
	"anitrack/internal/timeutil"
)

// ErrNotFound marks a missing referenced record; handlers map it to 404.
var ErrNotFound = errors.New("not found")

// ValidationError marks malformed input; handlers map it to 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ReminderService manages reminder lifecycle outside the scheduler: creation
// with computed fire times, listing, and user dismissal.
type ReminderService struct {
	reminderRepo *repository.ReminderRepository
	animeRepo    *repository.AnimeRepository
}

// NewReminderService creates a new ReminderService
func NewReminderService(reminderRepo *repository.ReminderRepository, animeRepo *repository.AnimeRepository) *ReminderService {
	return &ReminderService{
		reminderRepo: reminderRepo,
		animeRepo:    animeRepo,
	}
}

// CreateReminderInput is the request payload for creating a reminder
type CreateReminderInput struct {
	Type           models.ReminderType    `json:"type"`
	AnimeID        string                 `json:"anime_id"`
	EpisodeNumber  int                    `json:"episode_number"`
	CustomSchedule *models.CustomSchedule `json:"custom_schedule"`
}

// Create validates the input, computes the fire time and stores the reminder.
func (s *ReminderService) Create(userID int64, input CreateReminderInput) (*models.Reminder, error) {
	if !models.ValidReminderType(input.Type) {
		return nil, invalid("unknown reminder type: %s", input.Type)
	}

	animeID, err := strconv.ParseInt(input.AnimeID, 10, 64)
	if err != nil {
		return nil, invalid("invalid anime id: %s", input.AnimeID)
	}
	anime, err := s.animeRepo.GetByID(animeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load anime: %w", err)
	}
	if anime == nil {
		return nil, fmt.Errorf("anime %d: %w", animeID, ErrNotFound)
	}

	remindAt, err := computeRemindAt(input, anime)
	if err != nil {
		return nil, err
	}

	reminder := &models.Reminder{
		UserID:         userID,
		AnimeID:        input.AnimeID,
		EpisodeNumber:  input.EpisodeNumber,
		Type:           input.Type,
		CustomSchedule: input.CustomSchedule,
		RemindAt:       remindAt,
		IsActive:       true,
		IsSent:         false,
	}
	if err := s.reminderRepo.Create(reminder); err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}
	return reminder, nil
}

// List returns the user's active reminders
func (s *ReminderService) List(userID int64) ([]models.Reminder, error) {
	reminders, err := s.reminderRepo.GetActiveByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	if reminders == nil {
		reminders = []models.Reminder{}
	}
	return reminders, nil
}

// Dismiss deactivates a reminder. Dismissed reminders are never dispatched
// and custom-schedule chains stop regenerating.
func (s *ReminderService) Dismiss(id, userID int64) error {
	ok, err := s.reminderRepo.Dismiss(id, userID)
	if err != nil {
		return fmt.Errorf("failed to dismiss reminder: %w", err)
	}
	if !ok {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}

// computeRemindAt derives the fire time from the reminder type. Weekly anime
// are assumed to air one episode per week starting at the release date, so
// episode N fires at release_date + (N-1) weeks.
func computeRemindAt(input CreateReminderInput, anime *models.Anime) (time.Time, error) {
	now := timeutil.Now()

	switch input.Type {
	case models.ReminderAnimeStart:
		start, err := parseReleaseDate(anime.ReleaseDate, now.Location())
		if err != nil {
			return time.Time{}, invalid("anime %q has no usable release date", anime.Name)
		}
		return start, nil

	case models.ReminderNextEpisode:
		if input.EpisodeNumber < 1 {
			return time.Time{}, invalid("episode_number must be >= 1")
		}
		if anime.EpisodeCount > 0 && input.EpisodeNumber > anime.EpisodeCount {
			return time.Time{}, invalid("episode_number %d exceeds episode count %d", input.EpisodeNumber, anime.EpisodeCount)
		}
		start, err := parseReleaseDate(anime.ReleaseDate, now.Location())
		if err != nil {
			return time.Time{}, invalid("anime %q has no usable release date", anime.Name)
		}
		return start.AddDate(0, 0, (input.EpisodeNumber-1)*7), nil

	case models.ReminderCustomSchedule:
		sched := input.CustomSchedule
		if sched == nil {
			return time.Time{}, invalid("custom_schedule is required for type custom_schedule")
		}
		if sched.DayOfWeek < 0 || sched.DayOfWeek > 6 {
			return time.Time{}, invalid("day_of_week must be in 0-6")
		}
		hour, minute, err := parseClock(sched.Time)
		if err != nil {
			return time.Time{}, invalid("time must be HH:MM, got %q", sched.Time)
		}
		return nextWeeklyOccurrence(now, sched.DayOfWeek, hour, minute), nil
	}

	return time.Time{}, invalid("unknown reminder type: %s", input.Type)
}

func parseReleaseDate(releaseDate string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", releaseDate, loc)
}

// parseClock parses a zero-padded "HH:MM" slot. Anything else, including
// trailing characters, is rejected.
func parseClock(clock string) (hour, minute int, err error) {
	// time.Parse alone would still accept a single-digit hour
	if len(clock) != len("15:04") {
		return 0, 0, fmt.Errorf("clock must be HH:MM, got %q", clock)
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// nextWeeklyOccurrence returns the next time the given weekday/clock slot
// occurs, strictly after now.
func nextWeeklyOccurrence(now time.Time, dayOfWeek, hour, minute int) time.Time {
	daysAhead := (dayOfWeek - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).AddDate(0, 0, daysAhead)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
