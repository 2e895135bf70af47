package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"anitrack/internal/models"
	"anitrack/internal/timeutil"
)

type animeDBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// AnimeRepository handles Anime database operations
type AnimeRepository struct {
	db   animeDBTX
	base *sql.DB
}

// NewAnimeRepository creates a new AnimeRepository
func NewAnimeRepository(sqliteDB *SQLiteDB) *AnimeRepository {
	return &AnimeRepository{db: sqliteDB.db, base: sqliteDB.db}
}

func (r *AnimeRepository) BeginTx() (*sql.Tx, error) {
	if r.base == nil {
		return nil, fmt.Errorf("anime repository: transactions not supported on tx-scoped repo")
	}
	return r.base.Begin()
}

func (r *AnimeRepository) WithTx(tx *sql.Tx) *AnimeRepository {
	return &AnimeRepository{db: tx}
}

const animeColumns = `id, name, alt_name, genres, type, episode_count, synopsis, release_date, avg_rating, total_ratings, popularity, created_at, updated_at`

func scanAnime(row interface{ Scan(dest ...any) error }) (*models.Anime, error) {
	a := &models.Anime{}
	var genresJSON string
	err := row.Scan(
		&a.ID, &a.Name, &a.AltName, &genresJSON, &a.Type, &a.EpisodeCount,
		&a.Synopsis, &a.ReleaseDate, &a.AvgRating, &a.TotalRatings, &a.Popularity,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalGenres(genresJSON, &a.Genres); err != nil {
		return nil, fmt.Errorf("failed to decode genres for anime %d: %w", a.ID, err)
	}
	return a, nil
}

func unmarshalGenres(genresJSON string, dst *[]string) error {
	if genresJSON == "" {
		genresJSON = "[]"
	}
	return json.Unmarshal([]byte(genresJSON), dst)
}

// Create inserts a new Anime into the database
func (r *AnimeRepository) Create(a *models.Anime) error {
	genresJSON, err := json.Marshal(a.Genres)
	if err != nil {
		return fmt.Errorf("failed to encode genres: %w", err)
	}

	now := timeutil.Now()
	result, err := r.db.Exec(`
		INSERT INTO anime (name, alt_name, genres, type, episode_count, synopsis, release_date, avg_rating, total_ratings, popularity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Name, a.AltName, string(genresJSON), a.Type, a.EpisodeCount, a.Synopsis, a.ReleaseDate, a.AvgRating, a.TotalRatings, a.Popularity, now, now)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetByID retrieves an Anime by its ID
func (r *AnimeRepository) GetByID(id int64) (*models.Anime, error) {
	a, err := scanAnime(r.db.QueryRow(`
		SELECT `+animeColumns+` FROM anime WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByName retrieves an Anime by exact name or alt name, case-insensitive.
// Used to resolve externally produced title names back to catalog entries.
func (r *AnimeRepository) GetByName(name string) (*models.Anime, error) {
	a, err := scanAnime(r.db.QueryRow(`
		SELECT `+animeColumns+` FROM anime
		WHERE name = ? COLLATE NOCASE OR alt_name = ? COLLATE NOCASE
		LIMIT 1
	`, name, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListOptions controls catalog listing
type ListOptions struct {
	Search   string
	Genre    string
	Type     string
	SortBy   string // rating, popularity, name, release_date
	Order    string // asc, desc
	Page     int
	PageSize int
}

// List retrieves catalog entries with filtering, sorting and pagination.
// Returns the page of results and the total match count.
func (r *AnimeRepository) List(opts ListOptions) ([]models.Anime, int, error) {
	where := "1=1"
	args := []any{}

	if opts.Search != "" {
		where += " AND (name LIKE ? OR alt_name LIKE ?)"
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}
	if opts.Genre != "" {
		// Genres are stored as a JSON array of strings
		where += " AND genres LIKE ?"
		args = append(args, `%"`+opts.Genre+`"%`)
	}
	if opts.Type != "" {
		where += " AND type = ?"
		args = append(args, opts.Type)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM anime WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol := "popularity"
	switch opts.SortBy {
	case "rating":
		orderCol = "avg_rating"
	case "name":
		orderCol = "name"
	case "release_date":
		orderCol = "release_date"
	case "popularity", "":
	}
	direction := "DESC"
	if strings.EqualFold(opts.Order, "asc") {
		direction = "ASC"
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf(`
		SELECT %s FROM anime WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?
	`, animeColumns, where, orderCol, direction)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list, err := collectAnime(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// TopRated retrieves the highest-rated titles with avg_rating >= minRating
func (r *AnimeRepository) TopRated(minRating float64, limit int) ([]models.Anime, error) {
	rows, err := r.db.Query(`
		SELECT `+animeColumns+` FROM anime
		WHERE avg_rating >= ?
		ORDER BY avg_rating DESC, total_ratings DESC
		LIMIT ?
	`, minRating, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnime(rows)
}

// ListByMinRating retrieves all titles with avg_rating >= minRating.
// The recommendation scorer filters seen titles from this pool.
func (r *AnimeRepository) ListByMinRating(minRating float64) ([]models.Anime, error) {
	rows, err := r.db.Query(`
		SELECT `+animeColumns+` FROM anime WHERE avg_rating >= ? ORDER BY id
	`, minRating)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnime(rows)
}

// RecomputeRating recalculates avg_rating and total_ratings from the current
// watch entry ratings. The stored field is the single source of truth.
func (r *AnimeRepository) RecomputeRating(animeID int64) error {
	_, err := r.db.Exec(`
		UPDATE anime SET
			avg_rating = COALESCE((SELECT AVG(rating) FROM watch_entries WHERE anime_id = ? AND rating IS NOT NULL), 0),
			total_ratings = (SELECT COUNT(rating) FROM watch_entries WHERE anime_id = ? AND rating IS NOT NULL),
			updated_at = ?
		WHERE id = ?
	`, animeID, animeID, timeutil.Now(), animeID)
	return err
}

// IncrementPopularity bumps the popularity counter
func (r *AnimeRepository) IncrementPopularity(animeID int64) error {
	_, err := r.db.Exec(`
		UPDATE anime SET popularity = popularity + 1, updated_at = ? WHERE id = ?
	`, timeutil.Now(), animeID)
	return err
}

func collectAnime(rows *sql.Rows) ([]models.Anime, error) {
	var list []models.Anime
	for rows.Next() {
		a, err := scanAnime(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}
