// Package s3 stores audit snapshots and archives in an S3-compatible bucket (AWS S3, or
// MinIO and similar through a custom endpoint). GetURL hands out pre-signed GET URLs.
//
// auth_method selects the credentials:
//   - "default" or empty: the AWS default credential chain
//   - "static": access_key_id and secret_access_key
//   - "assume_role": role_arn through STS, with an optional external_id
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/storage"
	"github.com/go-green-rwanda/admin-backend/pkg/checksum"
)

const (
	checksumMetadataKey = "sha256"
	roleSessionName     = "ggr-admin-audit"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Storage.S3)
	})
}

// S3Storage is a storage.Storage over one bucket
type S3Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// resolveAuthMethod validates auth_method, inferring "static" when only keys are set
func resolveAuthMethod(cfg *appconfig.S3StorageConfig) (string, error) {
	switch cfg.AuthMethod {
	case "":
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			return "static", nil
		}
		return "default", nil
	case "default":
		return "default", nil
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return "", errors.New("static auth needs access_key_id and secret_access_key")
		}
		return "static", nil
	case "assume_role":
		if cfg.RoleARN == "" {
			return "", errors.New("assume_role auth needs role_arn")
		}
		return "assume_role", nil
	default:
		return "", fmt.Errorf("unsupported auth_method %q (want default, static or assume_role)", cfg.AuthMethod)
	}
}

// New builds the client for cfg. No request is made until the first operation.
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3 bucket name is required")
	case cfg.Region == "":
		return nil, errors.New("s3 region is required")
	}

	method, err := resolveAuthMethod(cfg)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if method == "static" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if method == "assume_role" {
		role := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = roleSessionName
				if cfg.ExternalID != "" {
					o.ExternalID = aws.String(cfg.ExternalID)
				}
			})
		awsCfg.Credentials = aws.NewCredentialsCache(role)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Storage{client: client, presign: s3.NewPresignClient(client), bucket: cfg.Bucket}, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// wrap maps missing-key errors onto storage.ErrNotFound
func wrap(op, path string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	return fmt.Errorf("s3 %s %s: %w", op, path, err)
}

func (s *S3Storage) head(ctx context.Context, path string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: aws.String(path)})
}

// Upload reads the whole object to checksum it and stores the sum as object metadata
func (s *S3Storage) Upload(ctx context.Context, path string, reader io.Reader, _ int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	sum := checksum.Bytes(data)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{checksumMetadataKey: sum},
	})
	if err != nil {
		return nil, wrap("put", path, err)
	}
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the object body
func (s *S3Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: aws.String(path)})
	if err != nil {
		return nil, wrap("get", path, err)
	}
	return out.Body, nil
}

// Delete removes the object; a missing key is not an error
func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: aws.String(path)})
	if err != nil && !isNotFound(err) {
		return wrap("delete", path, err)
	}
	return nil
}

// GetURL pre-signs a GET for an existing object
func (s *S3Storage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := s.head(ctx, path); err != nil {
		return "", wrap("head", path, err)
	}

	req, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: &s.bucket, Key: aws.String(path)},
		s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return req.URL, nil
}

// Exists reports whether a HEAD on path succeeds
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.head(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, wrap("head", path, err)
	}
}

// GetMetadata reads the object head. Objects written by other tools carry no checksum
// metadata, so their content is hashed instead.
func (s *S3Storage) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	out, err := s.head(ctx, path)
	if err != nil {
		return nil, wrap("head", path, err)
	}

	sum := out.Metadata[checksumMetadataKey]
	if sum == "" {
		body, err := s.Download(ctx, path)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if sum, err = checksum.CalculateSHA256(body); err != nil {
			return nil, err
		}
	}

	return &storage.FileMetadata{
		Path:         path,
		Size:         aws.ToInt64(out.ContentLength),
		Checksum:     sum,
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// List returns every key under prefix, sorted
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: aws.String(prefix),
	})

	var keys []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	slices.Sort(keys)
	return keys, nil
}
