package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"EchoFM/core/media"
	"EchoFM/core/pipeline"
	"EchoFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrackStore struct {
	mu     sync.Mutex
	tracks map[int64]*model.Track
	nextID int64
	// createRace, when set, makes the next CreateTrack fail after inserting
	// a competing row, simulating a lost unique-key race.
	createRace bool
}

func newFakeTrackStore() *fakeTrackStore {
	return &fakeTrackStore{tracks: make(map[int64]*model.Track), nextID: 1}
}

func (s *fakeTrackStore) CreateTrack(track *model.Track) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createRace {
		s.createRace = false
		cp := *track
		cp.ID = s.nextID
		s.nextID++
		s.tracks[cp.ID] = &cp
		return 0, fmt.Errorf("duplicate entry for %s/%s", track.Source, track.SourceID)
	}
	for _, t := range s.tracks {
		if t.Source == track.Source && t.SourceID == track.SourceID {
			return 0, fmt.Errorf("duplicate entry for %s/%s", track.Source, track.SourceID)
		}
	}
	cp := *track
	cp.ID = s.nextID
	s.nextID++
	s.tracks[cp.ID] = &cp
	return cp.ID, nil
}

func (s *fakeTrackStore) GetTrackByID(id int64) (*model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeTrackStore) GetTrackBySource(source, sourceID string) (*model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Source == source && t.SourceID == sourceID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeTrackStore) UpdateTrackStatus(trackID int64, status model.TrackStatus) error { return nil }

func (s *fakeTrackStore) MarkTrackReady(trackID int64, hlsPath string, duration int, bitrates []int, fileSize int64) error {
	return nil
}

func (s *fakeTrackStore) MarkTrackFailed(trackID int64) error { return nil }

func (s *fakeTrackStore) GetOldestReadyTracks(limit int) ([]*model.Track, error) { return nil, nil }

type fakeArtistStore struct {
	mu       sync.Mutex
	artists  map[string]*model.Artist // keyed by normalized name
	genres   map[string]*model.Genre
	attached map[int64][]int64
	nextID   int64
}

func newFakeArtistStore() *fakeArtistStore {
	return &fakeArtistStore{
		artists:  make(map[string]*model.Artist),
		genres:   make(map[string]*model.Genre),
		attached: make(map[int64][]int64),
		nextID:   1,
	}
}

func (s *fakeArtistStore) UpsertArtist(source string, sourceID *string, name string, imageURL *string) (*model.Artist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.artists[name]; ok {
		return a, nil
	}
	a := &model.Artist{ID: s.nextID, Name: name, Source: source, SourceID: sourceID, ImageURL: imageURL}
	s.nextID++
	s.artists[name] = a
	return a, nil
}

func (s *fakeArtistStore) AttachArtistToTrack(trackID, artistID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[trackID] = append(s.attached[trackID], artistID)
	return nil
}

func (s *fakeArtistStore) FindOrCreateGenre(name string) (*model.Genre, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.genres[name]; ok {
		return g, nil
	}
	g := &model.Genre{ID: s.nextID, Name: name}
	s.nextID++
	s.genres[name] = g
	return g, nil
}

func (s *fakeArtistStore) GetArtistsByTrack(trackID int64) ([]model.Artist, error) { return nil, nil }

func (s *fakeArtistStore) GetGenreByID(id int64) (*model.Genre, error) { return nil, nil }

type fakeMetaProvider struct {
	mu    sync.Mutex
	calls int
	meta  *media.TrackMeta
	err   error
}

func (p *fakeMetaProvider) FetchMetadata(ctx context.Context, sourceID string) (*media.TrackMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.meta, nil
}

type fakeScheduler struct {
	mu       sync.Mutex
	enqueued []int64
}

func (s *fakeScheduler) Enqueue(trackID int64) (*pipeline.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, trackID)
	return &pipeline.Job{TrackID: trackID}, true
}

func sampleMeta(sourceID string) *media.TrackMeta {
	dur := 187
	aid := "UCabc"
	return &media.TrackMeta{
		Provider:   "youtube",
		ProviderID: sourceID,
		Title:      "Test Song",
		Duration:   &dur,
		Artists: []media.ArtistMeta{
			{Name: "Some Artist", SourceID: &aid},
			{Name: "Feature Guest"},
		},
		Genres: []string{"Electronic", "Ambient"},
	}
}

func TestIngestCreatesTrackAndSchedulesOnce(t *testing.T) {
	tracks := newFakeTrackStore()
	artists := newFakeArtistStore()
	meta := &fakeMetaProvider{meta: sampleMeta("abc123xyz")}
	sched := &fakeScheduler{}
	svc := NewService(tracks, artists, meta, sched)

	res, err := svc.Ingest(context.Background(), "youtube", "abc123xyz")
	require.NoError(t, err)
	require.NotNil(t, res.Track)
	assert.False(t, res.AlreadyExists)
	assert.Equal(t, model.StatusPending, res.Track.Status)
	assert.Equal(t, "Test Song", res.Track.Title)

	assert.Equal(t, []int64{res.Track.ID}, sched.enqueued)
	assert.Len(t, artists.attached[res.Track.ID], 2)

	// 仅第一个流派生效
	assert.Len(t, artists.genres, 1)
	assert.Contains(t, artists.genres, "Electronic")
	require.NotNil(t, res.Track.GenreID)
}

func TestIngestIsIdempotentPerSource(t *testing.T) {
	tracks := newFakeTrackStore()
	artists := newFakeArtistStore()
	meta := &fakeMetaProvider{meta: sampleMeta("abc123xyz")}
	sched := &fakeScheduler{}
	svc := NewService(tracks, artists, meta, sched)

	first, err := svc.Ingest(context.Background(), "youtube", "abc123xyz")
	require.NoError(t, err)
	second, err := svc.Ingest(context.Background(), "youtube", "abc123xyz")
	require.NoError(t, err)

	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.Track.ID, second.Track.ID)
	// 去重命中不重复抓取元数据，也不重复入队
	assert.Equal(t, 1, meta.calls)
	assert.Len(t, sched.enqueued, 1)
}

func TestIngestRejectsUnsupportedSource(t *testing.T) {
	svc := NewService(newFakeTrackStore(), newFakeArtistStore(), &fakeMetaProvider{}, &fakeScheduler{})

	_, err := svc.Ingest(context.Background(), "soundcloud", "abc123xyz")
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = svc.Ingest(context.Background(), "youtube", "ab")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestIngestMetadataFailureCreatesNothing(t *testing.T) {
	tracks := newFakeTrackStore()
	meta := &fakeMetaProvider{err: errors.New("yt-dlp exited with status 1")}
	sched := &fakeScheduler{}
	svc := NewService(tracks, newFakeArtistStore(), meta, sched)

	_, err := svc.Ingest(context.Background(), "youtube", "abc123xyz")

	var metaErr *MetadataError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, "abc123xyz", metaErr.SourceID)
	assert.Empty(t, tracks.tracks, "no track row on metadata failure")
	assert.Empty(t, sched.enqueued)
}

func TestIngestLostUniqueKeyRaceResolvesToExisting(t *testing.T) {
	tracks := newFakeTrackStore()
	tracks.createRace = true
	meta := &fakeMetaProvider{meta: sampleMeta("abc123xyz")}
	sched := &fakeScheduler{}
	svc := NewService(tracks, newFakeArtistStore(), meta, sched)

	res, err := svc.Ingest(context.Background(), "youtube", "abc123xyz")
	require.NoError(t, err)
	assert.True(t, res.AlreadyExists)
	// 输掉竞争的一方不入队，由赢家负责调度
	assert.Empty(t, sched.enqueued)
}
