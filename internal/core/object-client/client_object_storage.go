package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	cfg "github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
)

var _ core.ObjectClient = (*S3Client)(nil)

const (
	uploadTimeout   = 2 * time.Minute
	downloadTimeout = 2 * time.Minute
	deleteTimeout   = 30 * time.Second
)

// S3Client stores documents in a single bucket, addressed by object key.
type S3Client struct {
	client *s3.Client
	bucket string
}

func NewS3Client(ctx context.Context, cfg *cfg.Config) (*S3Client, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, core.E(core.KindConfig, "s3.new", errors.New("AWS credentials not set"))
	}
	if cfg.AwsRegion == "" {
		return nil, core.E(core.KindConfig, "s3.new", errors.New("AWS_REGION not set"))
	}
	if cfg.BucketName == "" {
		return nil, core.E(core.KindConfig, "s3.new", errors.New("S3 bucket name not set"))
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.AwsRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and localstack need path-style addressing.
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	log.Printf("S3Client: using bucket %s in %s", cfg.BucketName, cfg.AwsRegion)

	return NewS3ClientFrom(client, cfg.BucketName), nil
}

// NewS3ClientFrom wraps an already configured SDK client.
func NewS3ClientFrom(client *s3.Client, bucket string) *S3Client {
	return &S3Client{client: client, bucket: bucket}
}

// Upload streams data to path using the multipart upload manager.
func (c *S3Client) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	uploader := manager.NewUploader(c.client)

	ctxUpload, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := uploader.Upload(ctxUpload, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return core.E(core.KindStorage, "s3.upload", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

// Download reads the whole object at path. A missing object yields an error
// wrapping core.ErrBlobNotFound.
func (c *S3Client) Download(ctx context.Context, path string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, core.E(core.KindDownload, "s3.download", fmt.Errorf("%s: %w", path, core.ErrBlobNotFound))
		}
		return nil, core.E(core.KindDownload, "s3.download", fmt.Errorf("%s: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.E(core.KindDownload, "s3.download", fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// Delete removes the object at path. Deleting a missing object is not an error.
func (c *S3Client) Delete(ctx context.Context, path string) error {
	ctxDel, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctxDel, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return core.E(core.KindStorage, "s3.delete", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
