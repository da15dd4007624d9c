package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreyhq/drey/pkg/log"
)

// S3 stores artifacts in an S3 bucket under an optional key prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 loads AWS configuration from the environment and verifies nothing;
// the first operation surfaces credential problems.
func NewS3(ctx context.Context, bucket, prefix, region string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is empty")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (b *S3) key(remotePath string) string {
	if b.prefix == "" {
		return remotePath
	}
	return path.Join(b.prefix, remotePath)
}

func (b *S3) Upload(ctx context.Context, localPath, remotePath string) (*Artifact, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	key := b.key(remotePath)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact: %w", err)
	}
	return b.Metadata(ctx, remotePath)
}

func (b *S3) Metadata(ctx context.Context, remotePath string) (*Artifact, error) {
	key := b.key(remotePath)
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	a := &Artifact{Path: remotePath}
	if head.ContentLength != nil {
		a.SizeBytes = *head.ContentLength
	}
	if head.LastModified != nil {
		a.ModTime = *head.LastModified
	}
	return a, nil
}

func (b *S3) List(ctx context.Context, prefix string) ([]Artifact, error) {
	fullPrefix := b.key(prefix)
	var out []Artifact
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: &fullPrefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", err)
		}
		for _, obj := range page.Contents {
			a := Artifact{}
			if obj.Key != nil {
				rel := *obj.Key
				if b.prefix != "" && len(rel) > len(b.prefix) {
					rel = rel[len(b.prefix)+1:]
				}
				a.Path = rel
			}
			if obj.Size != nil {
				a.SizeBytes = *obj.Size
			}
			if obj.LastModified != nil {
				a.ModTime = *obj.LastModified
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (b *S3) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	artifacts, err := b.List(ctx, "")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, a := range artifacts {
		if !a.ModTime.Before(cutoff) {
			continue
		}
		key := b.key(a.Path)
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &b.bucket,
			Key:    &key,
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete expired artifact %s: %w", a.Path, err)
		}
		logger := log.WithComponent("backup")
		logger.Debug().Str("key", key).Msg("deleted expired artifact")
		deleted++
	}
	return deleted, nil
}
