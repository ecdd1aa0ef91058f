package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"EchoFM/db"
	"EchoFM/logger"

	"github.com/redis/go-redis/v9"
)

// 缓存TTL，与曲目生命周期匹配：元数据基本不变，状态在转码期间频繁变化
const (
	TrackMetadataTTL = 24 * time.Hour
	TrackStatusTTL   = time.Hour
)

func metadataKey(trackID int64) string { return fmt.Sprintf("track:meta:%d", trackID) }
func statusKey(trackID int64) string   { return fmt.Sprintf("track:status:%d", trackID) }

// SetTrackStatus 缓存状态查询的响应体
func SetTrackStatus(trackID int64, payload interface{}) error {
	if db.RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal status payload for track %d: %w", trackID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.RedisClient.Set(ctx, statusKey(trackID), data, TrackStatusTTL).Err(); err != nil {
		logger.Warn("设置曲目状态缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// GetTrackStatus 读取状态缓存，未命中返回 nil, nil
func GetTrackStatus(trackID int64) ([]byte, error) {
	if db.RedisClient == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := db.RedisClient.Get(ctx, statusKey(trackID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 缓存未命中但无错误
		}
		logger.Warn("获取曲目状态缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return nil, nil // 缓存故障不阻塞查询，调用方回退数据库
	}
	return data, nil
}

// SetTrackMetadata 缓存曲目详情
func SetTrackMetadata(trackID int64, payload interface{}) error {
	if db.RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata payload for track %d: %w", trackID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.RedisClient.Set(ctx, metadataKey(trackID), data, TrackMetadataTTL).Err()
}

// GetTrackMetadata 读取曲目详情缓存，未命中返回 nil, nil
func GetTrackMetadata(trackID int64) ([]byte, error) {
	if db.RedisClient == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := db.RedisClient.Get(ctx, metadataKey(trackID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, nil
	}
	return data, nil
}

// InvalidateTrack 删除某曲目的全部缓存，状态变更时调用
func InvalidateTrack(trackID int64) {
	if db.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.RedisClient.Del(ctx, statusKey(trackID), metadataKey(trackID)).Err(); err != nil {
		logger.Warn("清除曲目缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
}
