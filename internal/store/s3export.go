package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

type snapshotUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Exporter uploads YAML snapshots of a store to an S3 object.
type S3Exporter struct {
	uploader snapshotUploader
	bucket   string
	key      string
}

func NewS3Exporter(ctx context.Context, profile, region, bucket, key string) (*S3Exporter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("export bucket is empty")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	if key == "" {
		key = "danzod/store.yaml"
	}
	return &S3Exporter{
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		bucket:   bucket,
		key:      key,
	}, nil
}

// Export writes the store snapshot and returns the object location.
func (e *S3Exporter) Export(ctx context.Context, s *MemoryStore) (string, error) {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return "", fmt.Errorf("error encoding snapshot: %v", err)
	}
	out, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(e.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/yaml"),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading snapshot: %v", err)
	}
	log.Info().Str("op", "store/s3export").Msgf("Exported %d bytes to s3://%s/%s", len(data), e.bucket, e.key)
	return out.Location, nil
}
