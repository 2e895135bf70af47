package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"anitrack/internal/llm"
	"anitrack/internal/models"
	"anitrack/internal/repository"
)

const (
	maxRecommendations = 12
	coldStartMinRating = 8.0
	defaultGenreWeight = 0.5
	defaultMeanRating  = 7.0
	topGenreCount      = 5
	topTypeCount       = 2

	// Diversity bonus fires for roughly 30% of candidates that carry a genre
	// outside the user's top genres, to keep the list from going stale.
	diversityProbability = 0.3
	diversityBonus       = 10.0

	aiCallTimeout   = 10 * time.Second
	popularCacheKey = "anitrack:popular_titles"
	popularCacheTTL = 10 * time.Minute
)

// RecommendationResponse is the single response shape for all three
// recommendation strategies.
type RecommendationResponse struct {
	Recommendations []models.Recommendation `json:"recommendations"`
	UserProfile     *models.ProfileSummary  `json:"user_profile,omitempty"`
	Source          models.RecSource        `json:"source"`
}

// RecommendationService produces ranked title suggestions from a user's watch
// history. It is stateless per request and safe for concurrent use.
type RecommendationService struct {
	animeRepo *repository.AnimeRepository
	watchRepo *repository.WatchRepository
	ai        AIRecommender // nil when no external capability is configured
	cache     *redis.Client // nil when caching is disabled
	logger    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRecommendationService creates a new RecommendationService. The ai and
// cache collaborators are optional.
func NewRecommendationService(
	animeRepo *repository.AnimeRepository,
	watchRepo *repository.WatchRepository,
	ai AIRecommender,
	cache *redis.Client,
	logger *zap.Logger,
) *RecommendationService {
	return &RecommendationService{
		animeRepo: animeRepo,
		watchRepo: watchRepo,
		ai:        ai,
		cache:     cache,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed replaces the random source used for the diversity bonus. Tests seed it
// to make scoring fully deterministic.
func (s *RecommendationService) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewSource(seed))
}

func (s *RecommendationService) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Recommend produces up to 12 titles the user has not logged, degrading
// through three tiers: AI capability, deterministic scorer, popular titles.
// Only a persistence failure is returned as an error.
func (s *RecommendationService) Recommend(ctx context.Context, userID int64) (*RecommendationResponse, error) {
	entries, err := s.watchRepo.GetByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load watch history: %w", err)
	}

	// Cold start: no history means no profile to build
	if len(entries) == 0 {
		recs, err := s.popular(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &RecommendationResponse{
			Recommendations: recs,
			Source:          models.SourcePopular,
		}, nil
	}

	profile := BuildProfile(entries)
	topGenres := TopGenres(profile, topGenreCount)
	topTypes := TopTypes(profile, topTypeCount)
	meanRating := MeanRating(profile)

	seen := make(map[int64]bool, len(entries))
	for _, e := range entries {
		seen[e.AnimeID] = true
	}

	summary := &models.ProfileSummary{
		TopGenres:      firstN(topGenres, 3),
		AvgRating:      math.Round(meanRating*10) / 10,
		CompletionRate: int(math.Round(profile.CompletionRate * 100)),
	}

	// Primary path: external capability. Any failure abandons the path
	// entirely; AI and algorithmic results are never mixed.
	if s.ai != nil {
		recs, err := s.fromAI(ctx, entries, topGenres, topTypes, meanRating, profile.CompletionRate, seen)
		if err != nil {
			s.logger.Warn("ai recommendation failed, using fallback",
				zap.Int64("user_id", userID),
				zap.Error(err))
		} else if len(recs) > 0 {
			return &RecommendationResponse{
				Recommendations: recs,
				UserProfile:     summary,
				Source:          models.SourceAI,
			}, nil
		}
	}

	recs, err := s.fallback(topGenres, topTypes, meanRating, seen)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return &RecommendationResponse{
			Recommendations: recs,
			UserProfile:     summary,
			Source:          models.SourceAlgorithm,
		}, nil
	}

	// Nothing clears the rating floor; fall back to globally popular titles
	popRecs, err := s.popular(ctx, seen)
	if err != nil {
		return nil, err
	}
	return &RecommendationResponse{
		Recommendations: popRecs,
		UserProfile:     summary,
		Source:          models.SourcePopular,
	}, nil
}

// fromAI calls the external capability and resolves its candidates back to
// catalog entries.
func (s *RecommendationService) fromAI(
	ctx context.Context,
	entries []models.WatchEntry,
	topGenres, topTypes []string,
	meanRating, completionRate float64,
	seen map[int64]bool,
) ([]models.Recommendation, error) {
	callCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
	defer cancel()

	history := make([]llm.HistoryItem, 0, len(entries))
	for _, e := range entries {
		if e.Anime == nil {
			continue
		}
		item := llm.HistoryItem{Title: e.Anime.Name, Status: string(e.Status)}
		if e.Rating != nil {
			item.Rating = *e.Rating
		}
		history = append(history, item)
	}

	candidates, err := s.ai.Recommend(callCtx, llm.Prompt{
		TopGenres:      topGenres,
		TopTypes:       topTypes,
		AvgRating:      meanRating,
		CompletionRate: completionRate,
		History:        history,
		Limit:          maxRecommendations,
	})
	if err != nil {
		return nil, err
	}

	var recs []models.Recommendation
	for _, c := range candidates {
		if len(recs) >= maxRecommendations {
			break
		}
		anime, err := s.animeRepo.GetByName(c.Title)
		if err != nil {
			return nil, err
		}
		if anime == nil || seen[anime.ID] {
			continue
		}
		confidence := c.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		reason := c.Reason
		if reason == "" {
			reason = "Suggested for you"
		}
		recs = append(recs, models.Recommendation{
			Anime:      *anime,
			Reason:     reason,
			Confidence: confidence,
			Source:     models.SourceAI,
		})
	}
	return recs, nil
}

type scoredAnime struct {
	anime models.Anime
	score float64
}

// fallback runs the deterministic weighted scorer over unseen candidates
// whose average rating clears max(6, mean-1).
func (s *RecommendationService) fallback(
	topGenres, topTypes []string,
	meanRating float64,
	seen map[int64]bool,
) ([]models.Recommendation, error) {
	minRating := math.Max(6, meanRating-1)
	pool, err := s.animeRepo.ListByMinRating(minRating)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	var scored []scoredAnime
	for _, a := range pool {
		if seen[a.ID] {
			continue
		}
		score := ScoreCandidate(a, topGenres, topTypes, meanRating)
		if HasNovelGenre(a, topGenres) && s.randFloat() < diversityProbability {
			score += diversityBonus
		}
		scored = append(scored, scoredAnime{anime: a, score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].anime.ID < scored[j].anime.ID
	})
	if len(scored) > maxRecommendations {
		scored = scored[:maxRecommendations]
	}

	recs := make([]models.Recommendation, 0, len(scored))
	for _, sc := range scored {
		recs = append(recs, models.Recommendation{
			Anime:      sc.anime,
			Reason:     ScoreReason(sc.score),
			Confidence: math.Min(sc.score/100, 1),
			Source:     models.SourceAlgorithm,
		})
	}
	return recs, nil
}

// popular returns the globally highest-rated titles not in seen, from the
// cache when available. The cached list is user-independent; per-user
// profiles are never cached.
func (s *RecommendationService) popular(ctx context.Context, seen map[int64]bool) ([]models.Recommendation, error) {
	var pool []models.Anime

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, popularCacheKey).Result(); err == nil {
			if json.Unmarshal([]byte(cached), &pool) != nil {
				pool = nil
			}
		}
	}

	if pool == nil {
		var err error
		// Over-fetch so exclusions still leave a full page
		pool, err = s.animeRepo.TopRated(coldStartMinRating, maxRecommendations*4)
		if err != nil {
			return nil, fmt.Errorf("failed to load popular titles: %w", err)
		}
		if s.cache != nil && len(pool) > 0 {
			if data, err := json.Marshal(pool); err == nil {
				s.cache.Set(ctx, popularCacheKey, data, popularCacheTTL)
			}
		}
	}

	recs := make([]models.Recommendation, 0, maxRecommendations)
	for _, a := range pool {
		if len(recs) >= maxRecommendations {
			break
		}
		if seen != nil && seen[a.ID] {
			continue
		}
		recs = append(recs, models.Recommendation{
			Anime:      a,
			Reason:     "Highly rated by the community",
			Confidence: math.Min(a.AvgRating/10, 1),
			Source:     models.SourcePopular,
		})
	}
	return recs, nil
}

// BuildProfile computes a preference profile from the user's current watch
// entries. Entries without a resolved anime are skipped.
func BuildProfile(entries []models.WatchEntry) *models.UserProfile {
	profile := &models.UserProfile{
		GenreWeights: make(map[string]float64),
		TypeCounts:   make(map[string]int),
	}

	completed := 0
	for _, e := range entries {
		// Status counts toward the completion rate even when the title
		// cannot be resolved
		if e.Status == models.StatusCompleted {
			completed++
		}
		if e.Anime == nil {
			continue
		}

		weight := defaultGenreWeight
		if e.Rating != nil {
			weight = float64(*e.Rating) / 10
			profile.Ratings = append(profile.Ratings, float64(*e.Rating))
		}
		for _, g := range e.Anime.Genres {
			profile.GenreWeights[g] += weight
		}
		profile.TypeCounts[e.Anime.Type]++
	}

	if len(entries) > 0 {
		profile.CompletionRate = float64(completed) / float64(len(entries))
	}
	return profile
}

// TopGenres ranks genres by accumulated weight, ties broken alphabetically
// for stable output.
func TopGenres(profile *models.UserProfile, n int) []string {
	genres := make([]string, 0, len(profile.GenreWeights))
	for g := range profile.GenreWeights {
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool {
		wi, wj := profile.GenreWeights[genres[i]], profile.GenreWeights[genres[j]]
		if wi != wj {
			return wi > wj
		}
		return genres[i] < genres[j]
	})
	return firstN(genres, n)
}

// TopTypes ranks types by count, ties broken alphabetically.
func TopTypes(profile *models.UserProfile, n int) []string {
	types := make([]string, 0, len(profile.TypeCounts))
	for t := range profile.TypeCounts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		ci, cj := profile.TypeCounts[types[i]], profile.TypeCounts[types[j]]
		if ci != cj {
			return ci > cj
		}
		return types[i] < types[j]
	})
	return firstN(types, n)
}

// MeanRating returns the mean of collected ratings, or 7.0 when the user has
// rated nothing.
func MeanRating(profile *models.UserProfile) float64 {
	if len(profile.Ratings) == 0 {
		return defaultMeanRating
	}
	sum := 0.0
	for _, r := range profile.Ratings {
		sum += r
	}
	return sum / float64(len(profile.Ratings))
}

// ScoreCandidate computes the weighted fallback score out of 100, before the
// diversity bonus:
//
//	genre match x40, rating alignment x25, type preference +15, popularity x10
func ScoreCandidate(a models.Anime, topGenres, topTypes []string, meanRating float64) float64 {
	genreSet := make(map[string]bool, len(topGenres))
	for _, g := range topGenres {
		genreSet[strings.ToLower(g)] = true
	}

	matches := 0
	for _, g := range a.Genres {
		if genreSet[strings.ToLower(g)] {
			matches++
		}
	}
	score := float64(matches) / math.Max(1, float64(len(topGenres))) * 40

	score += math.Max(0, (3-math.Abs(a.AvgRating-meanRating))/3) * 25

	for _, t := range topTypes {
		if strings.EqualFold(t, a.Type) {
			score += 15
			break
		}
	}

	score += math.Min(float64(a.TotalRatings)/1000, 1) * 10

	return score
}

// HasNovelGenre reports whether the candidate carries at least one genre
// outside the user's top genres.
func HasNovelGenre(a models.Anime, topGenres []string) bool {
	genreSet := make(map[string]bool, len(topGenres))
	for _, g := range topGenres {
		genreSet[strings.ToLower(g)] = true
	}
	for _, g := range a.Genres {
		if !genreSet[strings.ToLower(g)] {
			return true
		}
	}
	return false
}

// ScoreReason maps a score band to a human-readable reason.
func ScoreReason(score float64) string {
	switch {
	case score > 60:
		return "Matches your favorite genres"
	case score > 45:
		return "Aligned with your ratings"
	case score > 30:
		return "Fits your preferred format"
	default:
		return "Something new to discover"
	}
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
