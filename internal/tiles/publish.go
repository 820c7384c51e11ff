package tiles

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-parcels/internal/config"
	"github.com/joeblew999/plat-parcels/internal/logging"
)

// ContentType is the media type archives are uploaded with.
const ContentType = "application/vnd.pmtiles"

var ErrNotConfigured = errors.New("storage endpoint and bucket are required")

// Publisher uploads archives to S3-compatible storage.
type Publisher struct {
	client *minio.Client
	bucket string
	prefix string
	log    *logging.Logger
}

// NewPublisher creates a publisher from the storage config.
func NewPublisher(cfg config.StorageConfig, log *logging.Logger) (*Publisher, error) {
	if !cfg.Publishable() {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = logging.Nop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Publisher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, log: log}, nil
}

// Key returns the object key an archive file is published under.
func (p *Publisher) Key(file string) string {
	return path.Join(p.prefix, filepath.Base(file))
}

// Publish uploads the archive at file, creating the bucket when missing.
func (p *Publisher) Publish(ctx context.Context, file string) (minio.UploadInfo, error) {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("checking bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return minio.UploadInfo{}, fmt.Errorf("creating bucket %s: %w", p.bucket, err)
		}
	}

	key := p.Key(file)
	info, err := p.client.FPutObject(ctx, p.bucket, key, file, minio.PutObjectOptions{
		ContentType:  ContentType,
		CacheControl: "public, max-age=3600",
	})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("uploading %s: %w", key, err)
	}
	p.log.Info(ctx, "tile archive published",
		zap.String("bucket", p.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size),
	)
	return info, nil
}
