package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ephemhq/ephem/models"
)

// FilesystemStore implements ResourceStore on local disk: one JSON metadata
// file per record plus a payload file for out-of-band content. When an S3
// bucket is configured, payloads go to S3 instead of disk.
//
// A single process mutex serializes create and increment, which is what
// makes them atomic here. That is only sound for a single-process
// deployment; multi-instance setups should use the MongoDB or DynamoDB
// backend.
type FilesystemStore struct {
	dataDir  string
	s3Bucket string
	s3Prefix string
	s3Client *s3.Client
	mu       sync.Mutex
}

// NewFilesystemStore creates a filesystem storage backend rooted at dataDir.
// If s3Bucket is non-empty, file payloads are stored in S3 under s3Prefix.
func NewFilesystemStore(dataDir, s3Bucket, s3Prefix string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	for _, kind := range models.Kinds {
		if err := os.MkdirAll(filepath.Join(dataDir, string(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create kind dir: %w", err)
		}
	}

	store := &FilesystemStore{
		dataDir:  dataDir,
		s3Bucket: s3Bucket,
		s3Prefix: s3Prefix,
	}

	if s3Bucket != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		store.s3Client = s3.NewFromConfig(cfg)
	}

	return store, nil
}

func (f *FilesystemStore) metaPath(kind models.Kind, slug string) string {
	return filepath.Join(f.dataDir, string(kind), slug+".json")
}

func (f *FilesystemStore) payloadPath(kind models.Kind, slug string) string {
	return filepath.Join(f.dataDir, string(kind), slug+".bin")
}

func (f *FilesystemStore) s3Key(kind models.Kind, slug string) string {
	return applyS3Prefix(f.s3Prefix, string(kind)+"/"+slug)
}

// writeMeta persists the record. Caller must hold f.mu.
func (f *FilesystemStore) writeMeta(res *models.Resource) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.metaPath(res.Kind, res.Slug), data, 0o644)
}

// readMeta loads the record without taking the lock.
func (f *FilesystemStore) readMeta(kind models.Kind, slug string) (*models.Resource, error) {
	data, err := os.ReadFile(f.metaPath(kind, slug))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var res models.Resource
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode metadata for %s/%s: %w", kind, slug, err)
	}
	return &res, nil
}

// Create persists a new record, failing with ErrSlugTaken on collision.
// O_EXCL makes the existence check and the create one operation.
func (f *FilesystemStore) Create(_ context.Context, res *models.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(f.metaPath(res.Kind, res.Slug), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrSlugTaken
		}
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Get retrieves a record by kind and slug.
func (f *FilesystemStore) Get(_ context.Context, kind models.Kind, slug string) (*models.Resource, error) {
	return f.readMeta(kind, slug)
}

// Exists reports whether a record exists.
func (f *FilesystemStore) Exists(_ context.Context, kind models.Kind, slug string) (bool, error) {
	_, err := os.Stat(f.metaPath(kind, slug))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a record. Absent records are not an error.
func (f *FilesystemStore) Delete(_ context.Context, kind models.Kind, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.metaPath(kind, slug))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IncrementUsage applies the conditional increment under the store mutex.
func (f *FilesystemStore) IncrementUsage(_ context.Context, kind models.Kind, slug string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := f.readMeta(kind, slug)
	if err != nil {
		return 0, err
	}
	if res.UsageCeiling > 0 && res.UsageCount >= res.UsageCeiling {
		return res.UsageCount, ErrCeilingReached
	}
	res.UsageCount++
	if err := f.writeMeta(res); err != nil {
		return 0, err
	}
	return res.UsageCount, nil
}

// forEach walks every record of a kind.
func (f *FilesystemStore) forEach(kind models.Kind, fn func(*models.Resource) error) error {
	entries, err := os.ReadDir(filepath.Join(f.dataDir, string(kind)))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		slug := entry.Name()[:len(entry.Name())-len(".json")]
		res, err := f.readMeta(kind, slug)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // removed concurrently
			}
			return err
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}

// FindDead returns up to limit expired or exhausted records of the kind.
func (f *FilesystemStore) FindDead(_ context.Context, kind models.Kind, now time.Time, limit int) ([]*models.Resource, error) {
	var dead []*models.Resource
	err := f.forEach(kind, func(res *models.Resource) error {
		if len(dead) >= limit {
			return nil
		}
		if res.IsDead(now) {
			dead = append(dead, res)
		}
		return nil
	})
	return dead, err
}

func (f *FilesystemStore) deleteWhere(kind models.Kind, match func(*models.Resource) bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var deleted int64
	err := f.forEach(kind, func(res *models.Resource) error {
		if !match(res) {
			return nil
		}
		if err := os.Remove(f.metaPath(kind, res.Slug)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		deleted++
		return nil
	})
	return deleted, err
}

// DeleteExpired bulk-deletes records whose expiry is at or before now.
func (f *FilesystemStore) DeleteExpired(_ context.Context, kind models.Kind, now time.Time) (int64, error) {
	return f.deleteWhere(kind, func(res *models.Resource) bool {
		return res.ExpiresAt != nil && !res.ExpiresAt.After(now)
	})
}

// DeleteExhausted bulk-deletes records that have reached their ceiling.
func (f *FilesystemStore) DeleteExhausted(_ context.Context, kind models.Kind) (int64, error) {
	return f.deleteWhere(kind, func(res *models.Resource) bool {
		return res.IsExhausted()
	})
}

// DeleteIdle bulk-deletes never-used records created before the given time.
func (f *FilesystemStore) DeleteIdle(_ context.Context, kind models.Kind, before time.Time) (int64, error) {
	return f.deleteWhere(kind, func(res *models.Resource) bool {
		return res.UsageCount == 0 && res.CreatedAt.Before(before)
	})
}

// StorePayload saves out-of-band content to disk or S3.
func (f *FilesystemStore) StorePayload(ctx context.Context, kind models.Kind, slug string, content []byte) error {
	if f.s3Client != nil {
		_, err := f.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(f.s3Bucket),
			Key:           aws.String(f.s3Key(kind, slug)),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
		})
		return err
	}
	return os.WriteFile(f.payloadPath(kind, slug), content, 0o644)
}

// GetPayload retrieves out-of-band content from disk or S3.
func (f *FilesystemStore) GetPayload(ctx context.Context, kind models.Kind, slug string) ([]byte, error) {
	if f.s3Client != nil {
		out, err := f.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.s3Bucket),
			Key:    aws.String(f.s3Key(kind, slug)),
		})
		if err != nil {
			var noKey *s3types.NoSuchKey
			if errors.As(err, &noKey) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	}

	data, err := os.ReadFile(f.payloadPath(kind, slug))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// DeletePayload removes out-of-band content. Already-absent payloads are
// fine: sweep retries must not trip over a half-deleted record.
func (f *FilesystemStore) DeletePayload(ctx context.Context, kind models.Kind, slug string) error {
	if f.s3Client != nil {
		_, err := f.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(f.s3Bucket),
			Key:    aws.String(f.s3Key(kind, slug)),
		})
		return err
	}
	err := os.Remove(f.payloadPath(kind, slug))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op for the filesystem backend.
func (f *FilesystemStore) Close() error {
	return nil
}
