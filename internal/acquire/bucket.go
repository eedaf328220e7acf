package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketConfig addresses an S3-compatible bucket.
type BucketConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// objectStore is the subset of *minio.Client used here.
type objectStore interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
}

// Bucket finds hives in an object store.
type Bucket struct {
	client   objectStore
	bucket   string
	prefix   string
	fileName string
}

var _ Source = (*Bucket)(nil)

// NewBucket builds a minio client for cfg. Empty credentials use anonymous
// access.
func NewBucket(cfg BucketConfig, fileName string) (*Bucket, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("acquire: bucket source requires endpoint and bucket")
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("acquire: minio client: %w", err)
	}
	return newBucket(client, cfg.Bucket, cfg.Prefix, fileName), nil
}

func newBucket(client objectStore, bucket, prefix, fileName string) *Bucket {
	return &Bucket{client: client, bucket: bucket, prefix: prefix, fileName: fileName}
}

// Find lists matching object keys under the prefix.
func (b *Bucket) Find(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: b.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("acquire: list %s/%s: %w", b.bucket, b.prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if strings.EqualFold(path.Base(obj.Key), b.fileName) {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// Acquire downloads every match into workDir, one object at a time.
func (b *Bucket) Acquire(ctx context.Context, workDir string) ([]Hive, error) {
	keys, err := b.Find(ctx)
	if err != nil {
		return nil, err
	}
	hives := make([]Hive, 0, len(keys))
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire: %w", err)
		}
		h := Hive{ID: int64(i + 1), Name: path.Base(key), Origin: b.bucket + "/" + key}
		h.Path = stagePath(workDir, h.ID, h.Name)
		if err := b.client.FGetObject(ctx, b.bucket, key, h.Path, minio.GetObjectOptions{}); err != nil {
			return nil, fmt.Errorf("acquire: get %s: %w", h.Origin, err)
		}
		hives = append(hives, h)
	}
	log.Printf("acquire: bucket=%s prefix=%s found=%d", b.bucket, b.prefix, len(hives))
	return hives, nil
}
