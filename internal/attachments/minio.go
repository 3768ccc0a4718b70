// Package attachments stores discussion attachments in S3-compatible object
// storage. Comments keep only the object keys.
package attachments

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"legalflow/internal/util"
)

const MaxUploadBytes = 25 << 20

type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket when it does
// not exist yet.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads one attachment under the document's prefix and returns its
// object key.
func (s *MinioStore) Put(ctx context.Context, documentID string, upload Upload) (string, error) {
	if err := Validate(upload); err != nil {
		return "", err
	}
	key := ObjectKey(documentID, upload.Name)
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, upload.Body, upload.Size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put attachment %s: %w", key, err)
	}
	return key, nil
}

// Delete removes an object; used to clean up uploads whose comment was not
// written.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete attachment %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign attachment %s: %w", key, err)
	}
	return u.String(), nil
}

func Validate(upload Upload) error {
	if strings.TrimSpace(upload.Name) == "" {
		return fmt.Errorf("attachment name is required")
	}
	if upload.Body == nil {
		return fmt.Errorf("attachment %s has no content", upload.Name)
	}
	if upload.Size <= 0 || upload.Size > MaxUploadBytes {
		return fmt.Errorf("attachment %s must be between 1 byte and %d bytes", upload.Name, MaxUploadBytes)
	}
	return nil
}

// ObjectKey builds documents/<id>/<unique>-<safe name>.
func ObjectKey(documentID, name string) string {
	return path.Join("documents", documentID, util.NewID("att")+"-"+SafeName(name))
}

// SafeName keeps letters, digits, dot, dash and underscore; everything else
// becomes a dash.
func SafeName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), ".-")
	if out == "" {
		return "file"
	}
	return out
}
