package model

import "time"

// TrackStatus is the processing state of a track's HLS rendition.
type TrackStatus string

const (
	StatusPending    TrackStatus = "PENDING"
	StatusProcessing TrackStatus = "PROCESSING"
	StatusReady      TrackStatus = "READY"
	StatusFailed     TrackStatus = "FAILED"
)

// Progress maps a status to the coarse progress value reported to polling
// clients. FAILED is the -1 sentinel, not a percentage.
func (s TrackStatus) Progress() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 50
	case StatusReady:
		return 100
	case StatusFailed:
		return -1
	default:
		return 0
	}
}

// Track represents an externally sourced audio track and its pipeline state.
// (Source, SourceID) is the unique identity; HLSPath, Bitrates and FileSize are
// set only while Status is READY.
type Track struct {
	ID           int64       `json:"id"`
	Source       string      `json:"source"`   // provider tag, e.g. "youtube"
	SourceID     string      `json:"sourceId"` // provider scoped identifier
	Title        string      `json:"title"`
	Duration     *int        `json:"duration"` // seconds, nil until known
	ThumbnailURL *string     `json:"thumbnailUrl"`
	Status       TrackStatus `json:"status"`
	HLSPath      *string     `json:"hlsPath"`  // public playlist path, e.g. /hls/<sourceId>/master.m3u8
	Bitrates     []int       `json:"bitrates"` // kbps ladder of the encoded rendition
	FileSize     *int64      `json:"fileSize"` // bytes on disk of the rendition
	GenreID      *int64      `json:"-"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}
