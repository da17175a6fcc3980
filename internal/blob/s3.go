package blob

import (
	"context"

	"labcore/internal/infra/blob/s3"
)

// S3Config configures the S3 / MinIO backend.
//
//	LABCORE_BLOB_S3_BUCKET      bucket name (required)
//	LABCORE_BLOB_S3_REGION      region (default us-east-1)
//	LABCORE_BLOB_S3_ENDPOINT    custom endpoint for MinIO or localstack
//	LABCORE_BLOB_S3_PATH_STYLE  "true" forces path-style addressing
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN for static credentials
type S3Config = s3.Config

// NewS3 connects to the configured bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	st, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return st, nil
}
