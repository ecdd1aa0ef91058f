package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"EchoFM/config"
)

// StaticHLSHandler 直接从磁盘提供HLS产物
// 播放列表短缓存（转码修复后能较快生效），分片内容不变可以长缓存
type StaticHLSHandler struct {
	hlsDir string
	fs     http.Handler
}

// NewStaticHLSHandler 创建 /hls/ 前缀下的静态文件处理器
func NewStaticHLSHandler(cfg *config.Config) *StaticHLSHandler {
	return &StaticHLSHandler{
		hlsDir: cfg.HLSDir,
		fs:     http.StripPrefix("/hls/", http.FileServer(http.Dir(cfg.HLSDir))),
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *StaticHLSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 拒绝目录穿越
	clean := filepath.Clean(strings.TrimPrefix(r.URL.Path, "/hls/"))
	if strings.HasPrefix(clean, "..") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, ".m3u8"):
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "public, max-age=3600") // 1小时
	case strings.HasSuffix(r.URL.Path, ".ts"):
		w.Header().Set("Content-Type", "video/MP2T")
		w.Header().Set("Cache-Control", "public, max-age=86400") // 24小时
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	h.fs.ServeHTTP(w, r)
}
