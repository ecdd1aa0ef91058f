package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"EchoFM/cache"
	"EchoFM/config"
	"EchoFM/core/media"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"
)

// ProcessResult reports the outcome of one process call.
type ProcessResult struct {
	Cached  bool   // rendition already existed on disk, download/encode skipped
	HLSPath string // public playlist path
}

// Archiver mirrors a finished rendition into cold storage. Optional.
type Archiver interface {
	ArchiveRendition(ctx context.Context, sourceID, dir string) error
}

// Engine 转码引擎：下载 → 编码 → 持久化 → 清理
// 幂等：磁盘上已存在 master.m3u8 时跳过下载和编码，并以文件系统为准修复
// 数据库状态（例如编码完成后、持久化前进程崩溃留下的 PROCESSING 记录）
type Engine struct {
	repo       repository.TrackRepository
	downloader media.Downloader
	encoder    media.Encoder
	cfg        *config.Config
	hub        *EventHub
	archiver   Archiver // 可为 nil
}

// NewEngine creates a transcoding engine. hub and archiver may be nil.
func NewEngine(repo repository.TrackRepository, downloader media.Downloader, encoder media.Encoder, cfg *config.Config, hub *EventHub, archiver Archiver) *Engine {
	return &Engine{
		repo:       repo,
		downloader: downloader,
		encoder:    encoder,
		cfg:        cfg,
		hub:        hub,
		archiver:   archiver,
	}
}

func (e *Engine) publish(trackID int64, status model.TrackStatus, segments int) {
	cache.InvalidateTrack(trackID)
	if e.hub != nil {
		e.hub.Publish(TrackEvent{
			TrackID:  trackID,
			Status:   status,
			Progress: status.Progress(),
			Segments: segments,
		})
	}
}

// publicHLSPath is the path a client uses to reach the master playlist.
func publicHLSPath(sourceID string) string {
	return "/hls/" + sourceID + "/master.m3u8"
}

// Process runs the full pipeline for one track.
func (e *Engine) Process(ctx context.Context, trackID int64) (*ProcessResult, error) {
	track, err := e.repo.GetTrackByID(trackID)
	if err != nil {
		return nil, &PersistError{Op: "load track", Err: err}
	}
	if track == nil || track.SourceID == "" {
		return nil, fmt.Errorf("%w: id %d", ErrTrackNotFound, trackID)
	}

	hlsDir := filepath.Join(e.cfg.HLSDir, track.SourceID)
	masterPath := filepath.Join(hlsDir, "master.m3u8")

	// 幂等短路：产物已存在则不再下载/编码
	if _, err := os.Stat(masterPath); err == nil {
		return e.repairFromArtifact(ctx, track, hlsDir)
	}

	if err := e.repo.UpdateTrackStatus(trackID, model.StatusProcessing); err != nil {
		return nil, &PersistError{Op: "mark processing", Err: err}
	}
	e.publish(trackID, model.StatusProcessing, 0)

	if err := os.MkdirAll(e.cfg.RawDir, 0755); err != nil {
		return nil, e.fail(track, "", hlsDir, fmt.Errorf("failed to create raw directory: %w", err))
	}
	if err := os.MkdirAll(hlsDir, 0755); err != nil {
		return nil, e.fail(track, "", hlsDir, fmt.Errorf("failed to create hls directory: %w", err))
	}

	logger.Info("开始下载曲目",
		logger.Int64("trackId", trackID),
		logger.String("sourceId", track.SourceID))

	if err := e.downloader.Download(ctx, track.SourceID, e.cfg.RawDir); err != nil {
		return nil, e.fail(track, "", hlsDir, &DownloadError{SourceID: track.SourceID, Err: err})
	}

	rawFile, err := media.FindFileByPrefix(e.cfg.RawDir, track.SourceID+".")
	if err != nil {
		return nil, e.fail(track, "", hlsDir, &DownloadError{SourceID: track.SourceID, Err: err})
	}
	if rawFile == "" {
		return nil, e.fail(track, "", hlsDir, &DownloadError{SourceID: track.SourceID})
	}

	logger.Info("开始生成HLS",
		logger.Int64("trackId", trackID),
		logger.String("rawFile", rawFile))

	// 编码期间监听分片产出，推送粗粒度进度
	var stopWatch func()
	if e.hub != nil {
		var watchErr error
		stopWatch, watchErr = media.WatchSegments(ctx, hlsDir, func(total int) {
			e.hub.Publish(TrackEvent{
				TrackID:  trackID,
				Status:   model.StatusProcessing,
				Progress: model.StatusProcessing.Progress(),
				Segments: total,
			})
		})
		if watchErr != nil {
			logger.Warn("分片监听不可用，跳过进度推送", logger.ErrorField(watchErr))
		}
	}

	encodeErr := e.encoder.GenerateHLS(ctx, rawFile, hlsDir)
	if stopWatch != nil {
		stopWatch()
	}
	if encodeErr != nil {
		return nil, e.fail(track, rawFile, hlsDir, &EncodeError{SourceID: track.SourceID, Err: encodeErr})
	}

	duration, err := e.encoder.GetDuration(ctx, rawFile)
	if err != nil {
		// 时长缺失不致命，保留元数据里的值
		logger.Warn("测量音频时长失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		if track.Duration != nil {
			duration = *track.Duration
		}
	}

	fileSize, err := media.DirSize(hlsDir)
	if err != nil {
		return nil, e.fail(track, rawFile, hlsDir, &EncodeError{SourceID: track.SourceID, Err: err})
	}

	hlsPath := publicHLSPath(track.SourceID)
	if err := e.repo.MarkTrackReady(trackID, hlsPath, duration, e.cfg.Bitrates, fileSize); err != nil {
		return nil, e.fail(track, rawFile, hlsDir, &PersistError{Op: "mark ready", Err: err})
	}

	if e.archiver != nil {
		// 冷备失败只记录，产物仍在本地可服务
		if err := e.archiver.ArchiveRendition(ctx, track.SourceID, hlsDir); err != nil {
			logger.Warn("归档HLS产物失败",
				logger.String("sourceId", track.SourceID),
				logger.ErrorField(err))
		}
	}

	// 原始音频为中间产物，删除失败不影响结果
	if err := os.Remove(rawFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("清理原始音频失败",
			logger.String("rawFile", rawFile),
			logger.ErrorField(err))
	}

	e.publish(trackID, model.StatusReady, 0)
	logger.Info("曲目转码完成",
		logger.Int64("trackId", trackID),
		logger.String("hlsPath", hlsPath),
		logger.Int64("fileSize", fileSize))

	return &ProcessResult{Cached: false, HLSPath: hlsPath}, nil
}

// repairFromArtifact handles the idempotent short-circuit: the playlist already
// exists on disk, so the filesystem is the source of truth. A record that is
// not yet READY gets its duration/size re-measured and is marked READY.
func (e *Engine) repairFromArtifact(ctx context.Context, track *model.Track, hlsDir string) (*ProcessResult, error) {
	hlsPath := publicHLSPath(track.SourceID)

	if track.Status != model.StatusReady {
		duration, err := e.encoder.GetDuration(ctx, hlsDir)
		if err != nil {
			logger.Warn("测量已有产物时长失败",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
			if track.Duration != nil {
				duration = *track.Duration
			}
		}
		fileSize, err := media.DirSize(hlsDir)
		if err != nil {
			return nil, &PersistError{Op: "measure artifact", Err: err}
		}
		if err := e.repo.MarkTrackReady(track.ID, hlsPath, duration, e.cfg.Bitrates, fileSize); err != nil {
			return nil, &PersistError{Op: "repair ready", Err: err}
		}
		e.publish(track.ID, model.StatusReady, 0)
		logger.Info("依据磁盘产物修复曲目状态",
			logger.Int64("trackId", track.ID),
			logger.String("hlsPath", hlsPath))
	} else {
		logger.Debug("曲目已就绪，跳过处理", logger.Int64("trackId", track.ID))
	}

	return &ProcessResult{Cached: true, HLSPath: hlsPath}, nil
}

// fail cleans up partial artifacts best-effort, marks the track FAILED and
// returns the original error for the queue to record.
func (e *Engine) fail(track *model.Track, rawFile, hlsDir string, cause error) error {
	logger.Error("曲目处理失败",
		logger.Int64("trackId", track.ID),
		logger.ErrorField(cause))

	if rawFile != "" {
		if err := os.Remove(rawFile); err != nil && !os.IsNotExist(err) {
			logger.Warn("清理原始音频失败", logger.ErrorField(err))
		}
	}
	if err := os.RemoveAll(hlsDir); err != nil {
		logger.Warn("清理HLS目录失败", logger.ErrorField(err))
	}

	if err := e.repo.MarkTrackFailed(track.ID); err != nil {
		// 标记失败本身也失败时状态停留在 PROCESSING，下次处理由磁盘状态修复
		logger.Error("标记曲目失败状态出错",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
	} else {
		e.publish(track.ID, model.StatusFailed, 0)
	}
	return cause
}
