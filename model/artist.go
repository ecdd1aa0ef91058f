package model

import "time"

// Artist is a performer reported by the provider. SourceID is the provider's
// stable artist id when it supplies one; otherwise identity falls back to the
// normalized name within the same source, which can conflate distinct artists
// sharing a display name.
type Artist struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Source    string    `json:"source" gorm:"size:32;index:idx_artist_source_sid,unique"`
	SourceID  *string   `json:"sourceId" gorm:"column:source_id;size:128;index:idx_artist_source_sid,unique"`
	Name      string    `json:"name" gorm:"size:255;index"`
	ImageURL  *string   `json:"imageUrl" gorm:"column:image_url;size:767"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName overrides the GORM default pluralization.
func (Artist) TableName() string { return "artists" }

// TrackArtist is the existence-only association between tracks and artists.
type TrackArtist struct {
	TrackID  int64 `gorm:"primaryKey;column:track_id"`
	ArtistID int64 `gorm:"primaryKey;column:artist_id"`
}

func (TrackArtist) TableName() string { return "track_artists" }
