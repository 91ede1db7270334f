// Package reliability provides scheduled database backups to S3-compatible
// object storage with retention rotation.
package reliability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/config"
)

// Object describes one stored backup archive.
type Object struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// ObjectStore wraps the S3 API for any S3-compatible endpoint (AWS, R2,
// MinIO). Keys are namespaced under the configured prefix.
type ObjectStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewObjectStore creates an object store from the backup configuration.
func NewObjectStore(cfg config.BackupConfig, log zerolog.Logger) (*ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// R2 and MinIO want path-style addressing.
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &ObjectStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log:      log.With().Str("component", "object_store").Logger(),
	}, nil
}

func (o *ObjectStore) key(name string) string {
	if o.prefix == "" {
		return name
	}
	return o.prefix + "/" + name
}

// Upload streams one object to the bucket.
func (o *ObjectStore) Upload(ctx context.Context, name string, body io.Reader) error {
	_, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(name)),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// List returns the stored objects under the prefix, unordered.
func (o *ObjectStore) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(o.key("")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, objectFrom(obj))
		}
	}

	return objects, nil
}

func objectFrom(obj s3types.Object) Object {
	out := Object{}
	if obj.Key != nil {
		out.Key = *obj.Key
	}
	if obj.Size != nil {
		out.SizeBytes = *obj.Size
	}
	if obj.LastModified != nil {
		out.LastModified = *obj.LastModified
	}
	return out
}

// Delete removes one object by its full key.
func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
