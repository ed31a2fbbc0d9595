package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/refinio/one-core/onerr"
)

// Backend is a pluggable remote mirror for content-addressed objects — the
// DOMAIN STACK generalization of the teacher's per-column S3Storage
// (storage/persistence-s3.go) from "per-shard column object" to "per-content-
// hash object".
type Backend interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
}

// S3Backend mirrors objects to an S3-compatible bucket, one object per
// content hash, grounded directly on storage/persistence-s3.go's
// NewS3Storage client construction (custom endpoint, path-style, static or
// ambient credentials).
type S3Backend struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool

	mu     sync.Mutex
	client *s3.Client
}

func (b *S3Backend) ensureClient(ctx context.Context) (*s3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	var opts []func(*config.LoadOptions) error
	if b.Region != "" {
		opts = append(opts, config.WithRegion(b.Region))
	}
	if b.AccessKeyID != "" && b.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeFatalStorage, "load AWS config for S3 backend", err)
	}

	var s3Opts []func(*s3.Options)
	if b.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(b.Endpoint) })
	}
	if b.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	b.client = s3.NewFromConfig(cfg, s3Opts...)
	return b.client, nil
}

func (b *S3Backend) key(hash string) string {
	prefix := strings.TrimSuffix(b.Prefix, "/")
	if prefix == "" {
		return hash
	}
	return prefix + "/" + hash
}

// Put mirrors one content-addressed object to the bucket.
func (b *S3Backend) Put(ctx context.Context, hash string, data []byte) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	key := b.key(hash)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, fmt.Sprintf("S3 put %s", key), err)
	}
	return nil
}

// Get fetches a mirrored object by hash.
func (b *S3Backend) Get(ctx context.Context, hash string) ([]byte, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	key := b.key(hash)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, fmt.Sprintf("S3 get %s", key), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, fmt.Sprintf("S3 read body %s", key), err)
	}
	return data, nil
}

// MirrorTo copies hash's local content to backend, for use after a
// successful CreateObject/CreateBlob/CreateClob when remote mirroring is
// enabled.
func (s *Store) MirrorTo(ctx context.Context, backend Backend, hash string) error {
	r, err := s.Open(hash)
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return onerr.Wrap(onerr.CodeReadStream, "read local object before mirroring "+hash, err)
	}
	return backend.Put(ctx, hash, data)
}
