package ingest

import (
	"context"
	"errors"
	"fmt"

	"EchoFM/core/media"
	"EchoFM/core/pipeline"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"
)

// SupportedSource is the single provider tag accepted by ingestion.
const SupportedSource = "youtube"

// ErrUnsupportedSource reports a source tag other than the supported provider.
var ErrUnsupportedSource = errors.New("unsupported source")

// MetadataError reports a failed or unparseable external metadata fetch.
// Ingestion aborts and no track row is created.
type MetadataError struct {
	SourceID string
	Err      error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata fetch failed for %s: %v", e.SourceID, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// Scheduler hands newly created tracks to the transcoding queue.
type Scheduler interface {
	Enqueue(trackID int64) (*pipeline.Job, bool)
}

// Result is the outcome of one ingest call.
type Result struct {
	Track         *model.Track
	AlreadyExists bool
}

// Service 摄取协调器
// 以 (source, sourceId) 去重：已知曲目直接返回，不重新抓取元数据，也不再次入队
type Service struct {
	tracks  repository.TrackRepository
	artists repository.ArtistRepository
	meta    media.MetadataProvider
	queue   Scheduler
}

// NewService creates an ingest coordinator.
func NewService(tracks repository.TrackRepository, artists repository.ArtistRepository, meta media.MetadataProvider, queue Scheduler) *Service {
	return &Service{tracks: tracks, artists: artists, meta: meta, queue: queue}
}

// Ingest registers an external content item and schedules exactly one
// transcoding job for a newly created track. Idempotent at the identity level.
func (s *Service) Ingest(ctx context.Context, source, sourceID string) (*Result, error) {
	if source != SupportedSource {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, source)
	}
	if len(sourceID) < 3 {
		return nil, fmt.Errorf("%w: sourceId too short", ErrUnsupportedSource)
	}

	existing, err := s.tracks.GetTrackBySource(source, sourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debug("曲目已存在，跳过摄取",
			logger.Int64("trackId", existing.ID),
			logger.String("sourceId", sourceID))
		return &Result{Track: existing, AlreadyExists: true}, nil
	}

	meta, err := s.meta.FetchMetadata(ctx, sourceID)
	if err != nil {
		return nil, &MetadataError{SourceID: sourceID, Err: err}
	}

	// 仅使用第一个上报的流派，与来源行为保持一致
	var genreID *int64
	if len(meta.Genres) > 0 {
		genre, err := s.artists.FindOrCreateGenre(meta.Genres[0])
		if err != nil {
			return nil, err
		}
		if genre != nil {
			genreID = &genre.ID
		}
	}

	track := &model.Track{
		Source:       meta.Provider,
		SourceID:     meta.ProviderID,
		Title:        meta.Title,
		Duration:     meta.Duration,
		ThumbnailURL: meta.ThumbnailURL,
		Status:       model.StatusPending,
		GenreID:      genreID,
	}

	trackID, err := s.tracks.CreateTrack(track)
	if err != nil {
		// 并发摄取撞唯一键：回查并按去重命中处理
		if raced, lookupErr := s.tracks.GetTrackBySource(source, sourceID); lookupErr == nil && raced != nil {
			return &Result{Track: raced, AlreadyExists: true}, nil
		}
		return nil, err
	}
	track.ID = trackID

	for _, a := range meta.Artists {
		artist, err := s.artists.UpsertArtist(meta.Provider, a.SourceID, a.Name, a.ImageURL)
		if err != nil {
			return nil, err
		}
		if err := s.artists.AttachArtistToTrack(trackID, artist.ID); err != nil {
			return nil, err
		}
	}

	logger.Info("曲目摄取完成，已调度转码",
		logger.Int64("trackId", trackID),
		logger.String("sourceId", meta.ProviderID),
		logger.String("title", meta.Title))

	s.queue.Enqueue(trackID)
	return &Result{Track: track, AlreadyExists: false}, nil
}
