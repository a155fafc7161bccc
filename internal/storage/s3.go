package storage

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/biomedkg/kgx/internal/config"
	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

const (
	uploadTries   = 3
	uploadBackoff = 500 * time.Millisecond
)

// ObjectPutter is the part of *s3.Client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArtifactStore uploads pipeline outputs to a bucket.
type ArtifactStore struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewArtifactStore(client ObjectPutter, bucket, prefix string) *ArtifactStore {
	return &ArtifactStore{client: client, bucket: bucket, prefix: prefix}
}

// PutFile uploads the local file at name under key and returns the full key.
// Failed uploads are retried with backoff.
func (a *ArtifactStore) PutFile(ctx context.Context, name string, key string) (string, error) {
	fullKey := path.Join(a.prefix, key)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return util.RetryWithBackoff(ctx, uploadTries, uploadBackoff, 2, func(ctx context.Context) (string, error) {
		f, err := os.Open(name)
		if err != nil {
			return "", err
		}
		defer f.Close()

		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(fullKey),
			Body:        f,
			ContentType: aws.String(mimeType),
		})
		if err != nil {
			logger.Warn("[Storage] Upload failed", "key", fullKey, "err", err)
			return "", fmt.Errorf("failed to upload file to S3: %w", err)
		}
		return fullKey, nil
	})
}

// UploadDir uploads every file below dir, keyed by keyPrefix joined with
// the slash separated path relative to dir.
func (a *ArtifactStore) UploadDir(ctx context.Context, dir string, keyPrefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key, err := a.PutFile(ctx, p, path.Join(keyPrefix, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}

	logger.Info("[Storage] Uploaded artifacts", "bucket", a.bucket, "count", len(keys))
	return keys, nil
}
