package property

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"anitrack/internal/models"
	"anitrack/internal/repository"
	"anitrack/internal/service"
	"anitrack/internal/timeutil"
)

// countingNotifier records every delivery instead of sending it.
type countingNotifier struct {
	mu       sync.Mutex
	messages []string
	chatIDs  []int64
}

func (n *countingNotifier) Deliver(chatID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	n.chatIDs = append(n.chatIDs, chatID)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newTestScheduler(db *repository.SQLiteDB, notifier service.Notifier) (*service.Scheduler, *repository.ReminderRepository) {
	reminderRepo := repository.NewReminderRepository(db)
	userRepo := repository.NewUserRepository(db)
	animeRepo := repository.NewAnimeRepository(db)
	sched := service.NewScheduler(reminderRepo, userRepo, animeRepo, notifier, nil, time.Minute, zap.NewNop())
	return sched, reminderRepo
}

// For any due reminder, repeated scheduler ticks SHALL deliver it exactly
// once: the first tick flips is_sent and later ticks skip it.
func TestReminderDispatchAtMostOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("a due reminder is delivered exactly once across ticks", prop.ForAll(
		func(reminderCount, tickCount int) bool {
			db, cleanup := newTestDB(t, fmt.Sprintf("test_sched_once_%d_%d", reminderCount, tickCount))
			defer cleanup()

			userRepo := repository.NewUserRepository(db)
			animeRepo := repository.NewAnimeRepository(db)
			user := createTestUser(t, userRepo, "watcher")
			anime := createTestAnime(t, animeRepo, "Tracked Show", []string{"Action"}, "TV", 8.0)

			notifier := &countingNotifier{}
			sched, reminderRepo := newTestScheduler(db, notifier)

			now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			timeutil.SetNowFunc(func() time.Time { return now })
			defer timeutil.SetNowFunc(nil)

			for i := 0; i < reminderCount; i++ {
				rem := &models.Reminder{
					UserID:        user.ID,
					AnimeID:       strconv.FormatInt(anime.ID, 10),
					EpisodeNumber: i + 1,
					Type:          models.ReminderNextEpisode,
					RemindAt:      now.Add(-time.Minute),
					IsActive:      true,
				}
				if err := reminderRepo.Create(rem); err != nil {
					t.Logf("failed to create reminder: %v", err)
					return false
				}
			}

			for i := 0; i < tickCount; i++ {
				sched.RunOnce()
			}

			if notifier.count() != reminderCount {
				t.Logf("expected %d deliveries, got %d after %d ticks", reminderCount, notifier.count(), tickCount)
				return false
			}

			due, err := reminderRepo.GetDue(now)
			if err != nil {
				t.Logf("GetDue failed: %v", err)
				return false
			}
			if len(due) != 0 {
				t.Logf("expected no due reminders after dispatch, got %d", len(due))
				return false
			}
			return true
		},
		gen.IntRange(0, 8), // reminderCount
		gen.IntRange(1, 4), // tickCount
	))

	properties.TestingRun(t)
}

// For any dispatched custom_schedule reminder, exactly one successor SHALL be
// created, one week later, with the same weekly slot.
func TestCustomScheduleCreatesSuccessor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("custom schedule regenerates one week ahead", prop.ForAll(
		func(dayOfWeek, hour, tickCount int) bool {
			db, cleanup := newTestDB(t, fmt.Sprintf("test_sched_recur_%d_%d", dayOfWeek, hour))
			defer cleanup()

			userRepo := repository.NewUserRepository(db)
			animeRepo := repository.NewAnimeRepository(db)
			user := createTestUser(t, userRepo, "weekly")
			anime := createTestAnime(t, animeRepo, "Weekly Show", []string{"Drama"}, "TV", 7.0)

			notifier := &countingNotifier{}
			sched, reminderRepo := newTestScheduler(db, notifier)

			now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			timeutil.SetNowFunc(func() time.Time { return now })
			defer timeutil.SetNowFunc(nil)

			schedule := &models.CustomSchedule{
				DayOfWeek: dayOfWeek,
				Time:      fmt.Sprintf("%02d:00", hour),
			}
			original := &models.Reminder{
				UserID:         user.ID,
				AnimeID:        strconv.FormatInt(anime.ID, 10),
				Type:           models.ReminderCustomSchedule,
				CustomSchedule: schedule,
				RemindAt:       now.Add(-time.Minute),
				IsActive:       true,
			}
			if err := reminderRepo.Create(original); err != nil {
				t.Logf("failed to create reminder: %v", err)
				return false
			}

			for i := 0; i < tickCount; i++ {
				sched.RunOnce()
			}

			if notifier.count() != 1 {
				t.Logf("expected 1 delivery, got %d", notifier.count())
				return false
			}

			active, err := reminderRepo.GetActiveByUser(user.ID)
			if err != nil {
				t.Logf("GetActiveByUser failed: %v", err)
				return false
			}

			var successors []models.Reminder
			for _, rem := range active {
				if rem.ID != original.ID && !rem.IsSent {
					successors = append(successors, rem)
				}
			}
			if len(successors) != 1 {
				t.Logf("expected exactly 1 successor, got %d", len(successors))
				return false
			}

			successor := successors[0]
			expectedAt := original.RemindAt.Add(7 * 24 * time.Hour)
			if !successor.RemindAt.Equal(expectedAt) {
				t.Logf("expected successor at %v, got %v", expectedAt, successor.RemindAt)
				return false
			}
			if successor.CustomSchedule == nil ||
				successor.CustomSchedule.DayOfWeek != schedule.DayOfWeek ||
				successor.CustomSchedule.Time != schedule.Time {
				t.Logf("successor schedule mismatch: %+v", successor.CustomSchedule)
				return false
			}
			if successor.Type != models.ReminderCustomSchedule {
				t.Logf("successor type mismatch: %s", successor.Type)
				return false
			}
			return true
		},
		gen.IntRange(0, 6),  // dayOfWeek
		gen.IntRange(0, 23), // hour
		gen.IntRange(1, 3),  // tickCount
	))

	properties.TestingRun(t)
}

// For any dismissed reminder, the scheduler SHALL never deliver it, even when
// its fire time has passed.
func TestDismissedRemindersNeverDispatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("dismissed reminders are never delivered", prop.ForAll(
		func(activeCount, dismissedCount int) bool {
			db, cleanup := newTestDB(t, fmt.Sprintf("test_sched_dismiss_%d_%d", activeCount, dismissedCount))
			defer cleanup()

			userRepo := repository.NewUserRepository(db)
			animeRepo := repository.NewAnimeRepository(db)
			user := createTestUser(t, userRepo, "dismisser")
			anime := createTestAnime(t, animeRepo, "Abandoned Show", []string{"Horror"}, "TV", 6.5)

			notifier := &countingNotifier{}
			sched, reminderRepo := newTestScheduler(db, notifier)

			now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			timeutil.SetNowFunc(func() time.Time { return now })
			defer timeutil.SetNowFunc(nil)

			makeReminder := func() *models.Reminder {
				rem := &models.Reminder{
					UserID:   user.ID,
					AnimeID:  strconv.FormatInt(anime.ID, 10),
					Type:     models.ReminderAnimeStart,
					RemindAt: now.Add(-time.Minute),
					IsActive: true,
				}
				if err := reminderRepo.Create(rem); err != nil {
					t.Fatalf("failed to create reminder: %v", err)
				}
				return rem
			}

			for i := 0; i < activeCount; i++ {
				makeReminder()
			}
			for i := 0; i < dismissedCount; i++ {
				rem := makeReminder()
				ok, err := reminderRepo.Dismiss(rem.ID, user.ID)
				if err != nil || !ok {
					t.Logf("failed to dismiss reminder: ok=%v err=%v", ok, err)
					return false
				}
			}

			sched.RunOnce()

			if notifier.count() != activeCount {
				t.Logf("expected %d deliveries, got %d", activeCount, notifier.count())
				return false
			}
			return true
		},
		gen.IntRange(0, 5), // activeCount
		gen.IntRange(0, 5), // dismissedCount
	))

	properties.TestingRun(t)
}

// Scenario: a next_episode reminder for episode 3 produces the expected
// notification text with the show's catalog name.
func TestNextEpisodeMessageFormat(t *testing.T) {
	db, cleanup := newTestDB(t, "test_sched_message")
	defer cleanup()

	userRepo := repository.NewUserRepository(db)
	animeRepo := repository.NewAnimeRepository(db)
	user := createTestUser(t, userRepo, "reader")
	anime := createTestAnime(t, animeRepo, "Frieren", []string{"Fantasy"}, "TV", 9.2)

	notifier := &countingNotifier{}
	sched, reminderRepo := newTestScheduler(db, notifier)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	timeutil.SetNowFunc(func() time.Time { return now })
	defer timeutil.SetNowFunc(nil)

	rem := &models.Reminder{
		UserID:        user.ID,
		AnimeID:       strconv.FormatInt(anime.ID, 10),
		EpisodeNumber: 3,
		Type:          models.ReminderNextEpisode,
		RemindAt:      now.Add(-time.Minute),
		IsActive:      true,
	}
	if err := reminderRepo.Create(rem); err != nil {
		t.Fatalf("failed to create reminder: %v", err)
	}

	sched.RunOnce()

	if notifier.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", notifier.count())
	}
	expected := "Episode 3 of Frieren airing soon"
	if notifier.messages[0] != expected {
		t.Errorf("expected message %q, got %q", expected, notifier.messages[0])
	}
	if notifier.chatIDs[0] != user.TelegramChat {
		t.Errorf("expected delivery to chat %d, got %d", user.TelegramChat, notifier.chatIDs[0])
	}
}
