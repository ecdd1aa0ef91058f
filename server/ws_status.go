package server

import (
	"net/http"
	"strconv"
	"time"

	"EchoFM/core/pipeline"
	"EchoFM/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 跨域由前置的CORS策略控制
	},
}

// StatusSocketHandler 通过WebSocket推送曲目状态变更
// 轮询 /api/tracks/{id}/status 仍是主通道，这里只是降低轮询间隔的补充
type StatusSocketHandler struct {
	hub *pipeline.EventHub
}

// NewStatusSocketHandler 创建状态推送处理器
func NewStatusSocketHandler(hub *pipeline.EventHub) *StatusSocketHandler {
	return &StatusSocketHandler{hub: hub}
}

// ServeHTTP 升级连接并转发事件，可用 ?trackId= 过滤单曲目
func (h *StatusSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filterID int64
	if raw := r.URL.Query().Get("trackId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid trackId", http.StatusBadRequest)
			return
		}
		filterID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket升级失败", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	// 读协程只用于感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filterID != 0 && ev.TrackID != filterID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
