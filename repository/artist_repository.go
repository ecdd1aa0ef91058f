package repository

import (
	"errors"
	"fmt"
	"strings"

	"EchoFM/db"
	"EchoFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArtistRepository handles artist/genre rows and the track association. These
// tables are owned by the GORM connection rather than the raw-SQL one.
type ArtistRepository interface {
	UpsertArtist(source string, sourceID *string, name string, imageURL *string) (*model.Artist, error)
	AttachArtistToTrack(trackID, artistID int64) error
	FindOrCreateGenre(name string) (*model.Genre, error)
	GetArtistsByTrack(trackID int64) ([]model.Artist, error)
	GetGenreByID(id int64) (*model.Genre, error)
}

type gormArtistRepository struct {
	orm *gorm.DB
}

// NewGormArtistRepository creates an ArtistRepository backed by the global GORM
// connection.
func NewGormArtistRepository() ArtistRepository {
	return &gormArtistRepository{orm: db.GormDB}
}

// NormalizeName lowercases and trims a provider supplied name. Artist and genre
// identity both key on the normalized form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertArtist resolves an artist row. When the provider supplies a stable
// artist id the row is keyed on (source, source_id); otherwise it falls back to
// the normalized name within the same source. The fallback can merge distinct
// artists that share a display name; that is the documented provider behavior,
// not a defect to paper over here.
func (r *gormArtistRepository) UpsertArtist(source string, sourceID *string, name string, imageURL *string) (*model.Artist, error) {
	normalized := NormalizeName(name)

	if sourceID != nil && *sourceID != "" {
		var artist model.Artist
		err := r.orm.Where("source = ? AND source_id = ?", source, *sourceID).First(&artist).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			artist = model.Artist{Source: source, SourceID: sourceID, Name: normalized, ImageURL: imageURL}
			if err := r.orm.Create(&artist).Error; err != nil {
				return nil, fmt.Errorf("failed to create artist %s/%s: %w", source, *sourceID, err)
			}
			return &artist, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query artist %s/%s: %w", source, *sourceID, err)
		}
		if imageURL != nil {
			if err := r.orm.Model(&artist).Update("image_url", imageURL).Error; err != nil {
				return nil, fmt.Errorf("failed to update artist image %d: %w", artist.ID, err)
			}
		}
		return &artist, nil
	}

	var artist model.Artist
	err := r.orm.Where("source = ? AND name = ? AND source_id IS NULL", source, normalized).First(&artist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		artist = model.Artist{Source: source, Name: normalized, ImageURL: imageURL}
		if err := r.orm.Create(&artist).Error; err != nil {
			return nil, fmt.Errorf("failed to create artist %q in %s: %w", normalized, source, err)
		}
		return &artist, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artist %q in %s: %w", normalized, source, err)
	}
	if imageURL != nil && artist.ImageURL == nil {
		if err := r.orm.Model(&artist).Update("image_url", imageURL).Error; err != nil {
			return nil, fmt.Errorf("failed to backfill artist image %d: %w", artist.ID, err)
		}
	}
	return &artist, nil
}

// AttachArtistToTrack ensures the existence-only association row.
func (r *gormArtistRepository) AttachArtistToTrack(trackID, artistID int64) error {
	link := model.TrackArtist{TrackID: trackID, ArtistID: artistID}
	err := r.orm.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to attach artist %d to track %d: %w", artistID, trackID, err)
	}
	return nil
}

// GetArtistsByTrack returns the artists associated with a track.
func (r *gormArtistRepository) GetArtistsByTrack(trackID int64) ([]model.Artist, error) {
	var artists []model.Artist
	err := r.orm.
		Joins("JOIN track_artists ON track_artists.artist_id = artists.id").
		Where("track_artists.track_id = ?", trackID).
		Find(&artists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query artists for track %d: %w", trackID, err)
	}
	return artists, nil
}

// GetGenreByID returns a genre row, or nil when missing.
func (r *gormArtistRepository) GetGenreByID(id int64) (*model.Genre, error) {
	var genre model.Genre
	err := r.orm.First(&genre, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query genre %d: %w", id, err)
	}
	return &genre, nil
}

// FindOrCreateGenre resolves a genre by normalized name, creating on first use.
func (r *gormArtistRepository) FindOrCreateGenre(name string) (*model.Genre, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil, nil
	}

	var genre model.Genre
	err := r.orm.Where("name = ?", normalized).First(&genre).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		genre = model.Genre{Name: normalized}
		if err := r.orm.Create(&genre).Error; err != nil {
			return nil, fmt.Errorf("failed to create genre %q: %w", normalized, err)
		}
		return &genre, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query genre %q: %w", normalized, err)
	}
	return &genre, nil
}
