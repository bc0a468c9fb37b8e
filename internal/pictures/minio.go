package pictures

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOStore keeps pictures in an S3 compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

func NewMinIOStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, log *zap.Logger) (*MinIOStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client for %s: %w", endpoint, err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
		}
		log.Info("pictures.bucket.created", zap.String("bucket", bucket))
	}
	return &MinIOStore{client: client, bucket: bucket, log: log}, nil
}

func (s *MinIOStore) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, s.bucket, err)
	}
	s.log.Debug("pictures.uploaded", zap.String("key", info.Key), zap.String("etag", info.ETag), zap.Int64("size", info.Size))
	return s.objectURL(key), nil
}

func (s *MinIOStore) Delete(ctx context.Context, ref string) error {
	key, ok := strings.CutPrefix(ref, s.objectURL(""))
	if !ok {
		return fmt.Errorf("picture %q is not in bucket %s", ref, s.bucket)
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinIOStore) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucket, key)
}
