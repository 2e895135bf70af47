package repository

import (
	"database/sql"
	"errors"

	"anitrack/internal/models"
)

type watchDBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// WatchRepository handles WatchEntry database operations
type WatchRepository struct {
	db   watchDBTX
	base *sql.DB
}

// NewWatchRepository creates a new WatchRepository
func NewWatchRepository(sqliteDB *SQLiteDB) *WatchRepository {
	return &WatchRepository{db: sqliteDB.db, base: sqliteDB.db}
}

func (r *WatchRepository) BeginTx() (*sql.Tx, error) {
	if r.base == nil {
		return nil, errors.New("watch repository: transactions not supported on tx-scoped repo")
	}
	return r.base.Begin()
}

func (r *WatchRepository) WithTx(tx *sql.Tx) *WatchRepository {
	return &WatchRepository{db: tx}
}

// Upsert inserts or replaces a user's watch entry for an anime
func (r *WatchRepository) Upsert(e *models.WatchEntry) error {
	result, err := r.db.Exec(`
		INSERT INTO watch_entries (user_id, anime_id, status, episodes_watched, rating, started_at, finished_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, anime_id) DO UPDATE SET
			status = excluded.status,
			episodes_watched = excluded.episodes_watched,
			rating = excluded.rating,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			notes = excluded.notes
	`, e.UserID, e.AnimeID, e.Status, e.EpisodesWatched, e.Rating, e.StartedAt, e.FinishedAt, e.Notes)
	if err != nil {
		return err
	}
	if e.ID == 0 {
		if id, err := result.LastInsertId(); err == nil {
			e.ID = id
		}
	}
	return nil
}

// GetByUserAndAnime retrieves a single watch entry
func (r *WatchRepository) GetByUserAndAnime(userID, animeID int64) (*models.WatchEntry, error) {
	e := &models.WatchEntry{}
	err := r.db.QueryRow(`
		SELECT id, user_id, anime_id, status, episodes_watched, rating, started_at, finished_at, notes
		FROM watch_entries WHERE user_id = ? AND anime_id = ?
	`, userID, animeID).Scan(
		&e.ID, &e.UserID, &e.AnimeID, &e.Status, &e.EpisodesWatched,
		&e.Rating, &e.StartedAt, &e.FinishedAt, &e.Notes,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByUser retrieves all watch entries for a user with anime details populated
func (r *WatchRepository) GetByUser(userID int64) ([]models.WatchEntry, error) {
	rows, err := r.db.Query(`
		SELECT w.id, w.user_id, w.anime_id, w.status, w.episodes_watched, w.rating, w.started_at, w.finished_at, w.notes,
			a.id, a.name, a.alt_name, a.genres, a.type, a.episode_count, a.synopsis, a.release_date, a.avg_rating, a.total_ratings, a.popularity, a.created_at, a.updated_at
		FROM watch_entries w
		JOIN anime a ON w.anime_id = a.id
		WHERE w.user_id = ?
		ORDER BY w.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.WatchEntry
	for rows.Next() {
		var e models.WatchEntry
		a := &models.Anime{}
		var genresJSON string
		err := rows.Scan(
			&e.ID, &e.UserID, &e.AnimeID, &e.Status, &e.EpisodesWatched,
			&e.Rating, &e.StartedAt, &e.FinishedAt, &e.Notes,
			&a.ID, &a.Name, &a.AltName, &genresJSON, &a.Type, &a.EpisodeCount,
			&a.Synopsis, &a.ReleaseDate, &a.AvgRating, &a.TotalRatings, &a.Popularity,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := unmarshalGenres(genresJSON, &a.Genres); err != nil {
			return nil, err
		}
		e.Anime = a
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a user's watch entry for an anime
func (r *WatchRepository) Delete(userID, animeID int64) error {
	_, err := r.db.Exec(`
		DELETE FROM watch_entries WHERE user_id = ? AND anime_id = ?
	`, userID, animeID)
	return err
}
