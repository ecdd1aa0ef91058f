package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"EchoFM/config"
	"EchoFM/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioArchiver 将转码完成的HLS产物镜像到对象存储作为冷备
// 本地副本仍是服务来源，被存储回收淘汰后冷备保留
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiver 创建 MinIO 客户端并确保存储桶存在
func NewMinioArchiver(cfg *config.Config) (*MinioArchiver, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("已创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioArchiver{client: client, bucket: cfg.MinioBucket}, nil
}

// contentTypeFor 根据文件后缀返回HLS相关的内容类型
func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(name, ".ts"):
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}

// ArchiveRendition 上传整个曲目目录，对象键为 hls/<sourceId>/<相对路径>
func (a *MinioArchiver) ArchiveRendition(ctx context.Context, sourceID, dir string) error {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		objectName := path.Join("hls", sourceID, filepath.ToSlash(rel))

		_, err = a.client.FPutObject(ctx, a.bucket, objectName, p, minio.PutObjectOptions{
			ContentType: contentTypeFor(p),
		})
		if err != nil {
			return fmt.Errorf("上传 %s 失败: %w", objectName, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("HLS产物已归档",
		logger.String("sourceId", sourceID),
		logger.Int("objectCount", uploaded))
	return nil
}
