package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"EchoFM/cache"
	"EchoFM/core/media"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"
)

const (
	// reclaimTriggerRatio 存储占用超过配额的该比例后触发清理
	reclaimTriggerRatio = 0.9
	// reclaimRunCapGB 单次清理释放超过该值后提前停止，避免一次清掉过多
	reclaimRunCapGB = 10.0
	// evictionBatchSize 每次清理最多考察的候选曲目数
	evictionBatchSize = 10
)

const bytesPerGB = 1024 * 1024 * 1024

// ReclaimResult reports one reclaim pass.
type ReclaimResult struct {
	Cleaned   bool    `json:"cleaned"`
	CurrentGB float64 `json:"currentGB"`
	FreedGB   float64 `json:"freedGB"`
}

// Reclaimer 存储回收器
// 以 updated_at 为粗粒度LRU信号：淘汰最久未写入的 READY 曲目，删除其HLS
// 产物并把记录退回 PENDING，元数据保留，后续重新摄取时自愈
type Reclaimer struct {
	repo   repository.TrackRepository
	hlsDir string
	hub    *EventHub
}

// NewReclaimer creates a storage reclaimer. hub may be nil.
func NewReclaimer(repo repository.TrackRepository, hlsDir string, hub *EventHub) *Reclaimer {
	return &Reclaimer{repo: repo, hlsDir: hlsDir, hub: hub}
}

// Reclaim measures the HLS root and, when usage exceeds 90% of limitGB, evicts
// least-recently-updated READY tracks until the candidate batch or the per-run
// freed cap is exhausted. Per-track failures are logged and skipped.
func (r *Reclaimer) Reclaim(ctx context.Context, limitGB float64) (*ReclaimResult, error) {
	currentSize, err := media.DirSize(r.hlsDir)
	if err != nil {
		return nil, err
	}
	currentGB := float64(currentSize) / bytesPerGB

	if currentGB <= limitGB*reclaimTriggerRatio {
		logger.Debug("存储占用正常",
			logger.Float64("currentGB", currentGB),
			logger.Float64("limitGB", limitGB))
		return &ReclaimResult{Cleaned: false, CurrentGB: currentGB}, nil
	}

	logger.Warn("存储接近配额，开始清理",
		logger.Float64("currentGB", currentGB),
		logger.Float64("limitGB", limitGB))

	candidates, err := r.repo.GetOldestReadyTracks(evictionBatchSize)
	if err != nil {
		return nil, err
	}

	var freed int64
	for _, track := range candidates {
		if ctx.Err() != nil {
			break
		}
		if track.SourceID == "" {
			continue
		}

		trackDir := filepath.Join(r.hlsDir, track.SourceID)
		if _, err := os.Stat(trackDir); err != nil {
			continue
		}

		size, err := media.DirSize(trackDir)
		if err != nil {
			logger.Warn("测量曲目目录失败，跳过",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
			continue
		}
		if err := os.RemoveAll(trackDir); err != nil {
			logger.Warn("删除曲目目录失败，跳过",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
			continue
		}

		// 产物已删，记录退回 PENDING 等待重新摄取
		if err := r.repo.UpdateTrackStatus(track.ID, model.StatusPending); err != nil {
			logger.Error("回退曲目状态失败",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
			continue
		}
		cache.InvalidateTrack(track.ID)
		if r.hub != nil {
			r.hub.Publish(TrackEvent{
				TrackID:  track.ID,
				Status:   model.StatusPending,
				Progress: model.StatusPending.Progress(),
			})
		}

		freed += size
		logger.Info("已淘汰曲目",
			logger.Int64("trackId", track.ID),
			logger.Float64("freedMB", float64(size)/(1024*1024)))

		if float64(freed)/bytesPerGB > reclaimRunCapGB {
			break
		}
	}

	return &ReclaimResult{Cleaned: true, CurrentGB: currentGB, FreedGB: float64(freed) / bytesPerGB}, nil
}

// Run periodically reclaims storage until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context, interval time.Duration, limitGB float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reclaim(ctx, limitGB); err != nil {
				logger.Error("存储清理失败", logger.ErrorField(err))
			}
		}
	}
}
