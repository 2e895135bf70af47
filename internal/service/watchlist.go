package service

import (
	"fmt"

	"anitrack/internal/models"
	"anitrack/internal/repository"
	"anitrack/internal/timeutil"
)

// WatchlistService manages per-user watch entries and keeps the derived
// anime rating fields in sync with rating writes.
type WatchlistService struct {
	watchRepo *repository.WatchRepository
	animeRepo *repository.AnimeRepository
}

// NewWatchlistService creates a new WatchlistService
func NewWatchlistService(watchRepo *repository.WatchRepository, animeRepo *repository.AnimeRepository) *WatchlistService {
	return &WatchlistService{
		watchRepo: watchRepo,
		animeRepo: animeRepo,
	}
}

// UpsertInput is the request payload for adding or updating a watch entry
type UpsertInput struct {
	Status          models.WatchStatus `json:"status"`
	EpisodesWatched int                `json:"episodes_watched"`
	Rating          *int               `json:"rating"`
	Notes           string             `json:"notes"`
}

// Upsert creates or updates the user's watch entry for an anime. Completing
// an entry snaps episodes watched to the total and stamps the finish date.
// Rating writes recompute the anime's stored average, which is the single
// source of truth for avg_rating.
func (s *WatchlistService) Upsert(userID, animeID int64, input UpsertInput) (*models.WatchEntry, error) {
	anime, err := s.animeRepo.GetByID(animeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load anime: %w", err)
	}
	if anime == nil {
		return nil, fmt.Errorf("anime %d: %w", animeID, ErrNotFound)
	}

	if !models.ValidWatchStatus(input.Status) {
		return nil, invalid("unknown status: %s", input.Status)
	}
	if input.Rating != nil && (*input.Rating < 1 || *input.Rating > 10) {
		return nil, invalid("rating must be in 1-10, got %d", *input.Rating)
	}
	if input.EpisodesWatched < 0 {
		return nil, invalid("episodes_watched must not be negative")
	}
	if anime.EpisodeCount > 0 && input.EpisodesWatched > anime.EpisodeCount {
		return nil, invalid("episodes_watched %d exceeds episode count %d", input.EpisodesWatched, anime.EpisodeCount)
	}

	existing, err := s.watchRepo.GetByUserAndAnime(userID, animeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load watch entry: %w", err)
	}

	now := timeutil.Now()
	entry := &models.WatchEntry{
		UserID:          userID,
		AnimeID:         animeID,
		Status:          input.Status,
		EpisodesWatched: input.EpisodesWatched,
		Rating:          input.Rating,
		Notes:           input.Notes,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.StartedAt = existing.StartedAt
		entry.FinishedAt = existing.FinishedAt
	}

	if entry.StartedAt == nil && (input.Status == models.StatusWatching || input.Status == models.StatusCompleted) {
		entry.StartedAt = &now
	}
	if input.Status == models.StatusCompleted {
		if anime.EpisodeCount > 0 {
			entry.EpisodesWatched = anime.EpisodeCount
		}
		if entry.FinishedAt == nil {
			entry.FinishedAt = &now
		}
	} else {
		entry.FinishedAt = nil
	}

	tx, err := s.watchRepo.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	watchRepo := s.watchRepo.WithTx(tx)
	animeRepo := s.animeRepo.WithTx(tx)

	if err := watchRepo.Upsert(entry); err != nil {
		return nil, fmt.Errorf("failed to save watch entry: %w", err)
	}

	ratingChanged := input.Rating != nil || (existing != nil && existing.Rating != nil)
	if ratingChanged {
		if err := animeRepo.RecomputeRating(animeID); err != nil {
			return nil, fmt.Errorf("failed to recompute rating: %w", err)
		}
	}
	if existing == nil {
		if err := animeRepo.IncrementPopularity(animeID); err != nil {
			return nil, fmt.Errorf("failed to update popularity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	entry.Anime = anime
	return entry, nil
}

// List returns the user's watch entries with anime details populated
func (s *WatchlistService) List(userID int64) ([]models.WatchEntry, error) {
	entries, err := s.watchRepo.GetByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}
	if entries == nil {
		entries = []models.WatchEntry{}
	}
	return entries, nil
}

// Remove deletes the user's watch entry and recomputes the anime rating in
// case the removed entry carried one.
func (s *WatchlistService) Remove(userID, animeID int64) error {
	existing, err := s.watchRepo.GetByUserAndAnime(userID, animeID)
	if err != nil {
		return fmt.Errorf("failed to load watch entry: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("watch entry for anime %d: %w", animeID, ErrNotFound)
	}

	tx, err := s.watchRepo.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.watchRepo.WithTx(tx).Delete(userID, animeID); err != nil {
		return fmt.Errorf("failed to delete watch entry: %w", err)
	}
	if existing.Rating != nil {
		if err := s.animeRepo.WithTx(tx).RecomputeRating(animeID); err != nil {
			return fmt.Errorf("failed to recompute rating: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
