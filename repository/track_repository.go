package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"EchoFM/db"
	"EchoFM/model"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetTrackBySource(source, sourceID string) (*model.Track, error)
	UpdateTrackStatus(trackID int64, status model.TrackStatus) error
	MarkTrackReady(trackID int64, hlsPath string, duration int, bitrates []int, fileSize int64) error
	MarkTrackFailed(trackID int64) error
	GetOldestReadyTracks(limit int) ([]*model.Track, error)
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, source, source_id, title, duration, thumbnail_url, status, hls_path, bitrates, file_size, genre_id, created_at, updated_at`

// CreateTrack adds a new track to the database. A track is never created READY;
// the status column keeps its PENDING default unless explicitly set.
func (r *mysqlTrackRepository) CreateTrack(track *model.Track) (int64, error) {
	query := `INSERT INTO tracks (source, source_id, title, duration, thumbnail_url, status, genre_id, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	status := track.Status
	if status == "" {
		status = model.StatusPending
	}

	now := time.Now()
	res, err := stmt.Exec(track.Source, track.SourceID, track.Title, track.Duration, track.ThumbnailURL, status, track.GenreID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateTrack: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateTrack: %w", err)
	}
	return id, nil
}

// GetTrackByID retrieves a track by its ID.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetTrackBySource retrieves a track by its provider identity.
func (r *mysqlTrackRepository) GetTrackBySource(source, sourceID string) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE source = ? AND source_id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, source, sourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan track by source %s/%s: %w", source, sourceID, err)
	}
	return track, nil
}

// UpdateTrackStatus moves a track to the given status. Leaving READY clears the
// rendition columns so that hls_path/bitrates/file_size stay non-null iff READY.
func (r *mysqlTrackRepository) UpdateTrackStatus(trackID int64, status model.TrackStatus) error {
	if status == model.StatusReady {
		return fmt.Errorf("UpdateTrackStatus cannot mark track %d READY without rendition data, use MarkTrackReady", trackID)
	}
	query := `UPDATE tracks SET status = ?, hls_path = NULL, bitrates = NULL, file_size = NULL, updated_at = ? WHERE id = ?`

	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpdateTrackStatus: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(status, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute UpdateTrackStatus for track ID %d: %w", trackID, err)
	}
	return nil
}

// MarkTrackReady records a finished rendition for a track.
func (r *mysqlTrackRepository) MarkTrackReady(trackID int64, hlsPath string, duration int, bitrates []int, fileSize int64) error {
	encoded, err := json.Marshal(bitrates)
	if err != nil {
		return fmt.Errorf("failed to encode bitrates for track ID %d: %w", trackID, err)
	}

	query := `UPDATE tracks SET status = ?, hls_path = ?, duration = ?, bitrates = ?, file_size = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for MarkTrackReady: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(model.StatusReady, hlsPath, duration, string(encoded), fileSize, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute MarkTrackReady for track ID %d: %w", trackID, err)
	}
	return nil
}

// MarkTrackFailed moves a track to FAILED, clearing any rendition columns.
func (r *mysqlTrackRepository) MarkTrackFailed(trackID int64) error {
	return r.UpdateTrackStatus(trackID, model.StatusFailed)
}

// GetOldestReadyTracks returns up to limit READY tracks ordered by ascending
// updated_at. Used by storage reclamation as the coarse LRU signal.
func (r *mysqlTrackRepository) GetOldestReadyTracks(limit int) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE status = ? ORDER BY updated_at ASC LIMIT ?`
	rows, err := r.DB.Query(query, model.StatusReady, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest ready tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrackRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in GetOldestReadyTracks: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetOldestReadyTracks: %w", err)
	}

	return tracks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row *sql.Row) (*model.Track, error) {
	track, err := scanTrackRow(row)
	if err == sql.ErrNoRows {
		return nil, nil // Track not found
	}
	return track, err
}

func scanTrackRow(row rowScanner) (*model.Track, error) {
	track := &model.Track{}
	var bitrates sql.NullString
	err := row.Scan(&track.ID, &track.Source, &track.SourceID, &track.Title, &track.Duration,
		&track.ThumbnailURL, &track.Status, &track.HLSPath, &bitrates, &track.FileSize,
		&track.GenreID, &track.CreatedAt, &track.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if bitrates.Valid && bitrates.String != "" {
		if err := json.Unmarshal([]byte(bitrates.String), &track.Bitrates); err != nil {
			return nil, fmt.Errorf("failed to decode bitrates for track %d: %w", track.ID, err)
		}
	}
	return track, nil
}
