package service

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"anitrack/internal/models"
	"anitrack/internal/repository"
	"anitrack/internal/timeutil"
)

const reminderRecurrence = 7 * 24 * time.Hour

// Scheduler runs the periodic reminder dispatch loop and the weekly database
// backup.
type Scheduler struct {
	reminderRepo *repository.ReminderRepository
	userRepo     *repository.UserRepository
	animeRepo    *repository.AnimeRepository
	notifier     Notifier
	backupSvc    *BackupService
	interval     time.Duration
	logger       *zap.Logger
	stopChan     chan struct{}
	running      atomic.Bool
}

// NewScheduler creates a new Scheduler
func NewScheduler(
	reminderRepo *repository.ReminderRepository,
	userRepo *repository.UserRepository,
	animeRepo *repository.AnimeRepository,
	notifier Notifier,
	backupSvc *BackupService,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		reminderRepo: reminderRepo,
		userRepo:     userRepo,
		animeRepo:    animeRepo,
		notifier:     notifier,
		backupSvc:    backupSvc,
		interval:     interval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start starts all scheduled tasks
func (s *Scheduler) Start() {
	go s.runReminderLoop()
	go s.runWeeklyBackupScheduler()
	s.logger.Info("scheduler started",
		zap.Duration("reminder_interval", s.interval))
}

// Stop stops all scheduled tasks
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runReminderLoop() {
	for {
		select {
		case <-time.After(s.interval):
			s.RunOnce()
		case <-s.stopChan:
			return
		}
	}
}

// RunOnce processes a single tick: scan due reminders, dispatch each, create
// successors for custom schedules. Overlapping ticks are skipped rather than
// serialized, since a concurrent run could race on the same batch.
func (s *Scheduler) RunOnce() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous reminder tick still running, skipping")
		return
	}
	defer s.running.Store(false)

	due, err := s.reminderRepo.GetDue(timeutil.Now())
	if err != nil {
		// Abort this cycle only; the next tick retries from scratch
		s.logger.Error("failed to fetch due reminders", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("processing due reminders", zap.Int("count", len(due)))
	for _, reminder := range due {
		if err := s.process(reminder); err != nil {
			s.logger.Error("failed to process reminder",
				zap.Int64("reminder_id", reminder.ID),
				zap.Error(err))
		}
	}
}

// process handles one reminder. The claim is a conditional update on is_sent,
// so a reminder dispatches at most once even across concurrent schedulers.
func (s *Scheduler) process(reminder models.Reminder) error {
	claimed, err := s.reminderRepo.ClaimSent(reminder.ID)
	if err != nil {
		return fmt.Errorf("failed to claim reminder: %w", err)
	}
	if !claimed {
		// Already sent or dismissed since the batch was fetched
		return nil
	}

	s.dispatch(reminder)

	// Custom-schedule reminders regenerate one week ahead until dismissed
	if reminder.Type == models.ReminderCustomSchedule {
		successor := &models.Reminder{
			UserID:         reminder.UserID,
			AnimeID:        reminder.AnimeID,
			EpisodeNumber:  reminder.EpisodeNumber,
			Type:           reminder.Type,
			CustomSchedule: reminder.CustomSchedule,
			RemindAt:       reminder.RemindAt.Add(reminderRecurrence),
			IsActive:       true,
			IsSent:         false,
		}
		if err := s.reminderRepo.Create(successor); err != nil {
			return fmt.Errorf("failed to create recurring reminder: %w", err)
		}
	}

	return nil
}

// dispatch delivers the notification. Delivery failure is logged and the
// reminder stays sent (at-most-once, never redelivered).
func (s *Scheduler) dispatch(reminder models.Reminder) {
	user, err := s.userRepo.GetByID(reminder.UserID)
	if err != nil || user == nil {
		s.logger.Warn("reminder user missing, skipping delivery",
			zap.Int64("reminder_id", reminder.ID),
			zap.Int64("user_id", reminder.UserID),
			zap.Error(err))
		return
	}

	message := s.buildMessage(reminder)
	if err := s.notifier.Deliver(user.TelegramChat, message); err != nil {
		s.logger.Warn("reminder delivery failed",
			zap.Int64("reminder_id", reminder.ID),
			zap.Int64("user_id", reminder.UserID),
			zap.Error(err))
	}
}

func (s *Scheduler) buildMessage(reminder models.Reminder) string {
	title := s.resolveTitle(reminder.AnimeID)

	switch reminder.Type {
	case models.ReminderNextEpisode:
		return fmt.Sprintf("Episode %d of %s airing soon", reminder.EpisodeNumber, title)
	case models.ReminderAnimeStart:
		return fmt.Sprintf("%s is starting to air", title)
	default:
		return fmt.Sprintf("Time to watch %s", title)
	}
}

// resolveTitle looks up the referenced catalog entry. The reference is an
// opaque string, so a missing or malformed id degrades to a generic name
// instead of failing the reminder.
func (s *Scheduler) resolveTitle(animeID string) string {
	id, err := strconv.ParseInt(animeID, 10, 64)
	if err != nil {
		return "your anime"
	}
	anime, err := s.animeRepo.GetByID(id)
	if err != nil || anime == nil {
		return "your anime"
	}
	return anime.Name
}

// runWeeklyBackupScheduler runs the weekly backup scheduler
func (s *Scheduler) runWeeklyBackupScheduler() {
	if s.backupSvc == nil {
		return
	}
	for {
		nextRun := s.calculateNextBackupTime()
		duration := time.Until(nextRun)

		s.logger.Info("next backup scheduled",
			zap.Time("at", nextRun),
			zap.Duration("in", duration.Round(time.Hour)))

		select {
		case <-time.After(duration):
			backupPath, err := s.backupSvc.Backup()
			if err != nil {
				s.logger.Error("failed to create backup", zap.Error(err))
			} else {
				s.logger.Info("backup created", zap.String("path", backupPath))
			}
		case <-s.stopChan:
			return
		}
	}
}

// calculateNextBackupTime calculates the next Sunday at 03:00
func (s *Scheduler) calculateNextBackupTime() time.Time {
	now := timeutil.Now()

	daysUntilSunday := (7 - int(now.Weekday())) % 7
	if daysUntilSunday == 0 {
		backupTime := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
		if now.After(backupTime) {
			daysUntilSunday = 7
		}
	}

	nextSunday := now.AddDate(0, 0, daysUntilSunday)
	return time.Date(nextSunday.Year(), nextSunday.Month(), nextSunday.Day(), 3, 0, 0, 0, now.Location())
}
