package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"EchoFM/cache"
	"EchoFM/config"
	"EchoFM/core/ingest"
	"EchoFM/core/pipeline"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	ingestSvc  *ingest.Service
	trackRepo  repository.TrackRepository
	artistRepo repository.ArtistRepository
	reclaimer  *pipeline.Reclaimer
	cfg        *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	ingestSvc *ingest.Service,
	trackRepo repository.TrackRepository,
	artistRepo repository.ArtistRepository,
	reclaimer *pipeline.Reclaimer,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		ingestSvc:  ingestSvc,
		trackRepo:  trackRepo,
		artistRepo: artistRepo,
		reclaimer:  reclaimer,
		cfg:        cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type ingestRequest struct {
	Source   string `json:"source"`
	SourceID string `json:"sourceId"`
}

// IngestHandler 接收外部内容引用并调度转码
// POST /api/ingest {"source":"youtube","sourceId":"..."}
func (h *APIHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.ingestSvc.Ingest(r.Context(), req.Source, req.SourceID)
	if err != nil {
		if errors.Is(err, ingest.ErrUnsupportedSource) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var metaErr *ingest.MetadataError
		if errors.As(err, &metaErr) {
			logger.Error("元数据抓取失败",
				logger.String("sourceId", req.SourceID),
				logger.ErrorField(err))
			http.Error(w, "Failed to fetch metadata for source", http.StatusBadGateway)
			return
		}
		logger.Error("摄取失败", logger.ErrorField(err))
		http.Error(w, "Ingest failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trackId":       result.Track.ID,
		"status":        result.Track.Status,
		"alreadyExists": result.AlreadyExists,
	})
}

func trackIDFromRequest(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid track ID %q", raw)
	}
	return id, nil
}

// trackDetail is the response shape for GET /api/tracks/{id}.
type trackDetail struct {
	ID           int64             `json:"id"`
	Title        string            `json:"title"`
	Duration     *int              `json:"duration"`
	ThumbnailURL *string           `json:"thumbnailUrl"`
	Source       string            `json:"source"`
	SourceID     string            `json:"sourceId"`
	Status       model.TrackStatus `json:"status"`
	HLSPath      *string           `json:"hlsPath"`
	Bitrates     []int             `json:"bitrates"`
	Artists      []artistRef       `json:"artists"`
	Genre        *string           `json:"genre"`
	StreamURL    *string           `json:"streamUrl"`
}

type artistRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetTrackHandler 返回曲目详情（含艺术家与流派）
// GET /api/tracks/{id}
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if data, _ := cache.GetTrackMetadata(trackID); data != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		http.Error(w, "Failed to retrieve track", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}

	detail := trackDetail{
		ID:           track.ID,
		Title:        track.Title,
		Duration:     track.Duration,
		ThumbnailURL: track.ThumbnailURL,
		Source:       track.Source,
		SourceID:     track.SourceID,
		Status:       track.Status,
		HLSPath:      track.HLSPath,
		Bitrates:     track.Bitrates,
		Artists:      []artistRef{},
	}

	artists, err := h.artistRepo.GetArtistsByTrack(trackID)
	if err != nil {
		logger.Warn("查询曲目艺术家失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
	for _, a := range artists {
		detail.Artists = append(detail.Artists, artistRef{ID: a.ID, Name: a.Name})
	}

	if track.GenreID != nil {
		if genre, err := h.artistRepo.GetGenreByID(*track.GenreID); err == nil && genre != nil {
			detail.Genre = &genre.Name
		}
	}

	if track.HLSPath != nil {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		url := fmt.Sprintf("%s://%s%s", scheme, r.Host, *track.HLSPath)
		detail.StreamURL = &url
	}

	// 就绪后的详情基本不变，写入长TTL缓存
	if track.Status == model.StatusReady {
		cache.SetTrackMetadata(trackID, detail)
	}
	writeJSON(w, http.StatusOK, detail)
}

// trackStatus is the response shape for GET /api/tracks/{id}/status.
type trackStatus struct {
	TrackID  int64             `json:"trackId"`
	Status   model.TrackStatus `json:"status"`
	IsReady  bool              `json:"isReady"`
	HLSPath  *string           `json:"hlsPath"`
	Progress int               `json:"progress"`
}

// TrackStatusHandler 返回曲目处理进度，供客户端轮询
// 进度为粗粒度：PENDING=0 PROCESSING=50 READY=100 FAILED=-1
// GET /api/tracks/{id}/status
func (h *APIHandler) TrackStatusHandler(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if data, _ := cache.GetTrackStatus(trackID); data != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		http.Error(w, "Failed to retrieve track", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}

	status := trackStatus{
		TrackID:  track.ID,
		Status:   track.Status,
		IsReady:  track.Status == model.StatusReady,
		HLSPath:  track.HLSPath,
		Progress: track.Status.Progress(),
	}

	cache.SetTrackStatus(trackID, status)
	writeJSON(w, http.StatusOK, status)
}

// ReclaimHandler 按需触发一次存储回收
// POST /api/storage/reclaim
func (h *APIHandler) ReclaimHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.reclaimer.Reclaim(r.Context(), h.cfg.MaxStorageGB)
	if err != nil {
		logger.Error("存储回收失败", logger.ErrorField(err))
		http.Error(w, "Reclaim failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
