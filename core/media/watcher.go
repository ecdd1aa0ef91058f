package media

import (
	"context"
	"os"
	"strings"

	"EchoFM/logger"

	"github.com/fsnotify/fsnotify"
)

// WatchSegments 监听转码输出目录，统计已生成的TS分片数量
// ffmpeg 为每个码率创建 stream_<n> 子目录，新子目录会被动态加入监听
// 返回停止函数，编码结束后由调用方关闭
func WatchSegments(ctx context.Context, dir string, onSegment func(total int)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		total := 0
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) {
					continue
				}
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// stream_<n> 子目录，加入监听
					if err := watcher.Add(event.Name); err != nil {
						logger.Warn("监听分片子目录失败",
							logger.String("dir", event.Name),
							logger.ErrorField(err))
					}
					continue
				}
				if strings.HasSuffix(event.Name, ".ts") {
					total++
					if onSegment != nil {
						onSegment(total)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("分片监听错误", logger.ErrorField(err))
			}
		}
	}()

	stop := func() {
		watcher.Close()
		<-done
	}
	return stop, nil
}
