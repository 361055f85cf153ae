// Package content stores the bodies of tracked messages, either inline on
// the sent-message record or as objects in S3.
package content

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// Strategy names accepted by New.
const (
	StrategyDatabase = "database"
	StrategyS3       = "s3"
)

// Inline keeps the body in SentMessage.Content.
type Inline struct{}

func (Inline) Put(_ context.Context, msg *domain.SentMessage, body string) error {
	msg.Content = body
	msg.ContentPath = ""
	return nil
}

func (Inline) Get(_ context.Context, msg *domain.SentMessage) (string, error) {
	return msg.Content, nil
}

func (Inline) Delete(context.Context, *domain.SentMessage) error { return nil }

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store writes each body to <prefix>/<hash>.html and records the key in
// SentMessage.ContentPath.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed content store.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) key(hash string) string {
	return path.Join(s.prefix, hash+".html")
}

func (s *S3Store) Put(ctx context.Context, msg *domain.SentMessage, body string) error {
	key := s.key(msg.Hash)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("uploading content to S3: %w", err)
	}
	msg.Content = ""
	msg.ContentPath = key
	return nil
}

func (s *S3Store) Get(ctx context.Context, msg *domain.SentMessage) (string, error) {
	if msg.ContentPath == "" {
		return msg.Content, nil
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(msg.ContentPath),
	})
	if err != nil {
		return "", fmt.Errorf("getting content from S3: %w", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("reading S3 object: %w", err)
	}
	return string(b), nil
}

func (s *S3Store) Delete(ctx context.Context, msg *domain.SentMessage) error {
	if msg.ContentPath == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(msg.ContentPath),
	})
	if err != nil {
		return fmt.Errorf("deleting content from S3: %w", err)
	}
	return nil
}

// New returns the store for strategy. client is only used for StrategyS3.
func New(strategy string, client S3API, bucket, prefix string) (mailtracker.ContentStore, error) {
	switch strategy {
	case "", StrategyDatabase:
		return Inline{}, nil
	case StrategyS3:
		if client == nil || bucket == "" {
			return nil, fmt.Errorf("content strategy s3 requires a bucket")
		}
		return NewS3Store(client, bucket, prefix), nil
	default:
		return nil, fmt.Errorf("unknown content strategy %q", strategy)
	}
}
