package pipeline

import (
	"sync"

	"EchoFM/model"
)

// TrackEvent 曲目状态变更事件，推送给WebSocket订阅者
type TrackEvent struct {
	TrackID  int64             `json:"trackId"`
	Status   model.TrackStatus `json:"status"`
	Progress int               `json:"progress"`
	Segments int               `json:"segments,omitempty"` // 转码期间已产出的分片数
}

// EventHub 状态事件分发中心
// 订阅者通道写满时丢弃事件，转码不因慢消费者阻塞
type EventHub struct {
	mu   sync.RWMutex
	subs map[chan TrackEvent]struct{}
}

// NewEventHub 创建事件分发中心
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan TrackEvent]struct{})}
}

// Subscribe 注册订阅者，返回事件通道和取消函数
func (h *EventHub) Subscribe() (<-chan TrackEvent, func()) {
	ch := make(chan TrackEvent, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish 向所有订阅者广播事件，不阻塞
func (h *EventHub) Publish(ev TrackEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者积压，丢弃本条事件
		}
	}
}
