package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"EchoFM/config"
	"EchoFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrackRepo is an in-memory TrackRepository mirroring the semantics of the
// MySQL implementation: leaving READY clears the rendition columns and every
// write bumps updated_at.
type fakeTrackRepo struct {
	mu       sync.Mutex
	tracks   map[int64]*model.Track
	nextID   int64
	failOp     string // when set, the matching write fails
	statuses   map[int64][]model.TrackStatus
	writeOrder []int64 // trackIDs in status-write order
}

func newFakeTrackRepo() *fakeTrackRepo {
	return &fakeTrackRepo{
		tracks:   make(map[int64]*model.Track),
		statuses: make(map[int64][]model.TrackStatus),
		nextID:   1,
	}
}

func (r *fakeTrackRepo) CreateTrack(track *model.Track) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tracks {
		if t.Source == track.Source && t.SourceID == track.SourceID {
			return 0, fmt.Errorf("duplicate entry for %s/%s", track.Source, track.SourceID)
		}
	}
	id := r.nextID
	r.nextID++
	cp := *track
	cp.ID = id
	if cp.Status == "" {
		cp.Status = model.StatusPending
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.tracks[id] = &cp
	return id, nil
}

func (r *fakeTrackRepo) GetTrackByID(id int64) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTrackRepo) GetTrackBySource(source, sourceID string) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tracks {
		if t.Source == source && t.SourceID == sourceID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeTrackRepo) UpdateTrackStatus(trackID int64, status model.TrackStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOp == "status" {
		return errors.New("store write failed")
	}
	t, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %d not found", trackID)
	}
	t.Status = status
	t.HLSPath = nil
	t.Bitrates = nil
	t.FileSize = nil
	t.UpdatedAt = time.Now()
	r.statuses[trackID] = append(r.statuses[trackID], status)
	r.writeOrder = append(r.writeOrder, trackID)
	return nil
}

func (r *fakeTrackRepo) MarkTrackReady(trackID int64, hlsPath string, duration int, bitrates []int, fileSize int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOp == "ready" {
		return errors.New("store write failed")
	}
	t, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %d not found", trackID)
	}
	t.Status = model.StatusReady
	t.HLSPath = &hlsPath
	t.Duration = &duration
	t.Bitrates = append([]int(nil), bitrates...)
	t.FileSize = &fileSize
	t.UpdatedAt = time.Now()
	r.statuses[trackID] = append(r.statuses[trackID], model.StatusReady)
	return nil
}

func (r *fakeTrackRepo) MarkTrackFailed(trackID int64) error {
	return r.UpdateTrackStatus(trackID, model.StatusFailed)
}

func (r *fakeTrackRepo) GetOldestReadyTracks(limit int) ([]*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ready := make([]*model.Track, 0)
	for _, t := range r.tracks {
		if t.Status == model.StatusReady {
			cp := *t
			ready = append(ready, &cp)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].UpdatedAt.Before(ready[j].UpdatedAt) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// fakeDownloader drops a raw file named <sourceID>.webm into outputDir.
type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	err   error
	noop  bool // succeed without producing a file
}

func (d *fakeDownloader) Download(_ context.Context, sourceID, outputDir string) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.noop {
		return nil
	}
	return os.WriteFile(filepath.Join(outputDir, sourceID+".webm"), []byte("raw audio"), 0644)
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeEncoder writes a plausible rendition layout into outputDir.
type fakeEncoder struct {
	mu       sync.Mutex
	calls    int
	err      error
	duration int
}

func (e *fakeEncoder) GenerateHLS(_ context.Context, _, outputDir string) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	for i := 0; i < 2; i++ {
		streamDir := filepath.Join(outputDir, fmt.Sprintf("stream_%d", i))
		if err := os.MkdirAll(streamDir, 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(streamDir, "segment_000.ts"), []byte("segment data"), 0644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(streamDir, "playlist.m3u8"), []byte("#EXTM3U"), 0644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(outputDir, "master.m3u8"), []byte("#EXTM3U"), 0644)
}

func (e *fakeEncoder) GetDuration(_ context.Context, _ string) (int, error) {
	if e.duration == 0 {
		return 200, nil
	}
	return e.duration, nil
}

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestEngine(t *testing.T, repo *fakeTrackRepo, dl *fakeDownloader, enc *fakeEncoder) (*Engine, *config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		RawDir:   filepath.Join(base, "raw"),
		HLSDir:   filepath.Join(base, "hls"),
		Bitrates: []int{64, 128, 192, 256},
	}
	return NewEngine(repo, dl, enc, cfg, nil, nil), cfg
}

func seedTrack(repo *fakeTrackRepo, sourceID string) int64 {
	id, _ := repo.CreateTrack(&model.Track{
		Source:   "youtube",
		SourceID: sourceID,
		Title:    "Song",
		Status:   model.StatusPending,
	})
	return id
}

func TestProcessHappyPath(t *testing.T) {
	repo := newFakeTrackRepo()
	dl := &fakeDownloader{}
	enc := &fakeEncoder{}
	engine, cfg := newTestEngine(t, repo, dl, enc)

	id := seedTrack(repo, "abc123")
	res, err := engine.Process(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "/hls/abc123/master.m3u8", res.HLSPath)

	track, _ := repo.GetTrackByID(id)
	require.Equal(t, model.StatusReady, track.Status)
	require.NotNil(t, track.HLSPath)
	assert.Equal(t, "/hls/abc123/master.m3u8", *track.HLSPath)
	assert.Equal(t, []int{64, 128, 192, 256}, track.Bitrates)
	require.NotNil(t, track.FileSize)
	assert.Greater(t, *track.FileSize, int64(0))
	require.NotNil(t, track.Duration)
	assert.Equal(t, 200, *track.Duration)

	// 经过了 PROCESSING 中间态
	assert.Contains(t, repo.statuses[id], model.StatusProcessing)

	// 原始文件已清理
	_, err = os.Stat(filepath.Join(cfg.RawDir, "abc123.webm"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessIdempotentShortCircuit(t *testing.T) {
	repo := newFakeTrackRepo()
	dl := &fakeDownloader{}
	enc := &fakeEncoder{}
	engine, cfg := newTestEngine(t, repo, dl, enc)

	id := seedTrack(repo, "abc123")

	// 产物已在磁盘上，但记录仍是 PENDING（模拟持久化前崩溃）
	hlsDir := filepath.Join(cfg.HLSDir, "abc123")
	require.NoError(t, os.MkdirAll(hlsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hlsDir, "master.m3u8"), []byte("#EXTM3U"), 0644))

	res, err := engine.Process(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Cached)

	track, _ := repo.GetTrackByID(id)
	assert.Equal(t, model.StatusReady, track.Status, "filesystem truth repairs the record")
	require.NotNil(t, track.HLSPath)

	// 第二次调用同样短路，下载器和编码器始终未被触发
	res2, err := engine.Process(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res2.Cached)
	assert.Equal(t, 0, dl.callCount())
	assert.Equal(t, 0, enc.callCount())
}

func TestProcessEncodeFailureCleansUp(t *testing.T) {
	repo := newFakeTrackRepo()
	dl := &fakeDownloader{}
	enc := &fakeEncoder{err: errors.New("ffmpeg exited with code 1")}
	engine, cfg := newTestEngine(t, repo, dl, enc)

	id := seedTrack(repo, "abc123")
	_, err := engine.Process(context.Background(), id)

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)

	track, _ := repo.GetTrackByID(id)
	assert.Equal(t, model.StatusFailed, track.Status)
	assert.Nil(t, track.HLSPath)
	assert.Nil(t, track.FileSize)

	// 半成品目录与原始文件都已清理
	_, statErr := os.Stat(filepath.Join(cfg.HLSDir, "abc123"))
	assert.True(t, os.IsNotExist(statErr), "no partial HLS directory may remain")
	_, statErr = os.Stat(filepath.Join(cfg.RawDir, "abc123.webm"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessDownloadProducesNoFile(t *testing.T) {
	repo := newFakeTrackRepo()
	dl := &fakeDownloader{noop: true}
	enc := &fakeEncoder{}
	engine, _ := newTestEngine(t, repo, dl, enc)

	id := seedTrack(repo, "abc123")
	_, err := engine.Process(context.Background(), id)

	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, 0, enc.callCount())

	track, _ := repo.GetTrackByID(id)
	assert.Equal(t, model.StatusFailed, track.Status)
}

func TestProcessUnknownTrack(t *testing.T) {
	repo := newFakeTrackRepo()
	engine, _ := newTestEngine(t, repo, &fakeDownloader{}, &fakeEncoder{})

	_, err := engine.Process(context.Background(), 42)
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestProcessPersistFailurePropagates(t *testing.T) {
	repo := newFakeTrackRepo()
	repo.failOp = "ready"
	dl := &fakeDownloader{}
	enc := &fakeEncoder{}
	engine, _ := newTestEngine(t, repo, dl, enc)

	id := seedTrack(repo, "abc123")
	_, err := engine.Process(context.Background(), id)

	var pErr *PersistError
	require.ErrorAs(t, err, &pErr)

	track, _ := repo.GetTrackByID(id)
	assert.NotEqual(t, model.StatusReady, track.Status)
	assert.Nil(t, track.HLSPath, "hlsPath stays null unless READY")
}
