package source

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// ObjectStoreConfig configures an S3-compatible document inbox.
type ObjectStoreConfig struct {
	SourceType string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Prefix     string
	UseSSL     bool
}

// ObjectStore reads documents from an S3-compatible bucket (MinIO, AWS S3).
// Acknowledged objects are moved under "<prefix>processed/".
type ObjectStore struct {
	typ    string
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore connects to the bucket and verifies it exists.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	typ := cfg.SourceType
	if typ == "" {
		typ = "api"
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &ObjectStore{typ: typ, client: cli, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (o *ObjectStore) Type() string { return o.typ }

func (o *ObjectStore) processedPrefix() string {
	return o.prefix + ProcessedDir + "/"
}

// ListAvailable returns one ref per record of every supported object under the prefix.
func (o *ObjectStore) ListAvailable(ctx context.Context) ([]model.DocumentRef, error) {
	var refs []model.DocumentRef
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: o.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasPrefix(obj.Key, o.processedPrefix()) || !Supported(obj.Key) {
			continue
		}
		records, err := o.read(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		for i := range records {
			refs = append(refs, model.DocumentRef{
				SourceType: o.typ,
				Key:        recordKey(obj.Key, i),
				Name:       path.Base(obj.Key),
				Size:       obj.Size,
				ModifiedAt: obj.LastModified,
			})
		}
	}
	return refs, nil
}

// Fetch downloads the object and returns the referenced record.
func (o *ObjectStore) Fetch(ctx context.Context, ref model.DocumentRef) (model.Document, error) {
	key, index, err := splitKey(ref.Key)
	if err != nil {
		return model.Document{}, err
	}
	records, err := o.read(ctx, key)
	if err != nil {
		return model.Document{}, err
	}
	if index < 0 || index >= len(records) {
		return model.Document{}, fmt.Errorf("record %d out of range in %s", index, key)
	}
	return model.Document{
		ID:         documentID(o.typ, ref.Key, ref.ModifiedAt),
		SourceType: o.typ,
		FileName:   path.Base(key),
		RawPayload: records[index],
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Ack copies each consumed object under the processed prefix and removes the original.
func (o *ObjectStore) Ack(ctx context.Context, refs []model.DocumentRef) error {
	moved := make(map[string]bool)
	for _, ref := range refs {
		key, _, err := splitKey(ref.Key)
		if err != nil || moved[key] {
			continue
		}
		moved[key] = true

		dst := o.processedPrefix() + strings.TrimPrefix(key, o.prefix)
		_, err = o.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: o.bucket, Object: dst},
			minio.CopySrcOptions{Bucket: o.bucket, Object: key},
		)
		if err != nil {
			return fmt.Errorf("copy %s: %w", key, err)
		}
		if err := o.client.RemoveObject(ctx, o.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

func (o *ObjectStore) read(ctx context.Context, key string) ([]map[string]any, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return parseRecords(key, obj)
}
