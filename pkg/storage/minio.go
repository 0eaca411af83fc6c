package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/quocanhngo/clipsync/internal/model"
)

// Objects of image and file clips live under this prefix
const clipPrefix = "clipboard/"

// MinIOStorage keeps the bytes of non-text clips in a MinIO bucket
type MinIOStorage struct {
	client    *minio.Client
	bucket    string
	endpoint  string
	publicURL string
	useSSL    bool
}

// Config is the MinIO section of the server config
type Config struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Expiry removes clip objects after this long, matching the clipboard item TTL
	Expiry time.Duration
}

// NewMinIO dials MinIO and makes sure the clip bucket exists
func NewMinIO(ctx context.Context, cfg Config) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	s := &MinIOStorage{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  cfg.Endpoint,
		publicURL: cfg.PublicURL,
		useSSL:    cfg.UseSSL,
	}
	if err := s.ensureBucket(ctx, cfg.Expiry); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureBucket creates the bucket on first start. A lifecycle failure only
// logs: objects then outlive their clips until removed by Delete.
func (s *MinIOStorage) ensureBucket(ctx context.Context, expiry time.Duration) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
		log.Printf("📦 MinIO bucket %s created", s.bucket)
	}

	if expiry <= 0 {
		return nil
	}
	if err := s.client.SetBucketLifecycle(ctx, s.bucket, expiryRules(expiry)); err != nil {
		log.Printf("⚠️  Clip expiry rule not applied on %s: %v", s.bucket, err)
	}
	return nil
}

// expiryRules expires clip objects after ttl, rounded up to whole days
func expiryRules(ttl time.Duration) *lifecycle.Configuration {
	days := int((ttl + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "expire-clips",
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: clipPrefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return cfg
}

// Put uploads one clip body under the user's prefix
func (s *MinIOStorage) Put(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, fileName, contentType string) (*model.FileRef, error) {
	key := objectKey(userID, fileName, time.Now())
	if contentType == "" {
		contentType = detectContentType(filepath.Ext(fileName))
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	return &model.FileRef{
		ObjectKey: key,
		URL:       s.GetPublicURL(key),
		FileName:  fileName,
		MimeType:  contentType,
		Size:      size,
	}, nil
}

// Delete drops the object behind a clip
func (s *MinIOStorage) Delete(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// GetPublicURL prefers the configured external URL over the dial endpoint
func (s *MinIOStorage) GetPublicURL(objectName string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.publicURL, "/"), s.bucket, objectName)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectName)
}

// objectKey is clipboard/<userID>/<yyyy/mm/dd>/<uuid><ext>
func objectKey(userID uuid.UUID, fileName string, now time.Time) string {
	return fmt.Sprintf("%s%s/%s/%s%s",
		clipPrefix,
		userID,
		now.UTC().Format("2006/01/02"),
		uuid.New().String(),
		strings.ToLower(filepath.Ext(fileName)),
	)
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".txt":  "text/plain",
}

// detectContentType guesses a MIME type when the client sent none
func detectContentType(ext string) string {
	if t, ok := mimeByExt[strings.ToLower(ext)]; ok {
		return t
	}
	return "application/octet-stream"
}
