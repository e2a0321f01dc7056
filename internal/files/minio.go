// Package files stores document attachments in MinIO. Objects are keyed by
// document, so a hard delete can sweep everything the document owned.
package files

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"weldvault/api/internal/util"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store provides attachment storage on a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// Attachment describes a stored object.
type Attachment struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// NewStore connects to MinIO and ensures the bucket exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
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
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(documentID, attachmentID, name string) string {
	return fmt.Sprintf("documents/%s/%s/%s", documentID, attachmentID, name)
}

// Upload stores an attachment for a document and returns its descriptor.
func (s *Store) Upload(ctx context.Context, documentID, name, contentType string, size int64, content io.Reader) (Attachment, error) {
	if documentID == "" || name == "" {
		return Attachment{}, fmt.Errorf("document id and file name are required")
	}
	key := objectKey(documentID, util.NewID("att"), name)
	info, err := s.client.PutObject(ctx, s.bucket, key, content, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	return Attachment{
		Key:         key,
		Name:        name,
		Size:        info.Size,
		ContentType: contentType,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

// PresignedURL returns a time-limited download URL for an attachment.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return u.String(), nil
}

// List returns the attachments stored for a document.
func (s *Store) List(ctx context.Context, documentID string) ([]Attachment, error) {
	prefix := fmt.Sprintf("documents/%s/", documentID)
	var attachments []Attachment
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list attachments: %w", object.Err)
		}
		attachments = append(attachments, Attachment{
			Key:        object.Key,
			Name:       baseName(object.Key),
			Size:       object.Size,
			UploadedAt: object.LastModified,
		})
	}
	return attachments, nil
}

// Delete removes a single attachment.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// DeleteAll removes every attachment a document owns. Called on hard delete;
// soft-deleted documents keep their files for restore.
func (s *Store) DeleteAll(ctx context.Context, documentID string) error {
	attachments, err := s.List(ctx, documentID)
	if err != nil {
		return err
	}
	for _, att := range attachments {
		if err := s.Delete(ctx, att.Key); err != nil {
			return err
		}
	}
	return nil
}

func baseName(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}
