// Package s3blob implements store.BlobStore on an Amazon S3 (or S3
// compatible) bucket, issuing presigned GET URLs for downloads.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/store"
)

// API is the subset of *s3.Client the store needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner is satisfied by *s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Blobs stores files in one bucket.
type Blobs struct {
	client  API
	presign Presigner
	bucket  string
}

// New builds a blob store from an S3 client; the presigner is derived from it.
func New(client *s3.Client, bucket string) *Blobs {
	return NewWithAPI(client, s3.NewPresignClient(client), bucket)
}

// NewWithAPI allows substituting the client and presigner, e.g. in tests.
func NewWithAPI(client API, presign Presigner, bucket string) *Blobs {
	if client == nil || presign == nil {
		panic("nil s3 client passed to NewWithAPI")
	}
	return &Blobs{client: client, presign: presign, bucket: bucket}
}

// PutIfAbsent uploads with If-None-Match: * so an existing key is never
// overwritten.
func (b *Blobs) PutIfAbsent(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		IfNoneMatch:   aws.String("*"),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// ListByPrefix pages through ListObjectsV2 results.
func (b *Blobs) ListByPrefix(ctx context.Context, prefix string) ([]model.FileObject, error) {
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	out := make([]model.FileObject, 0)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			out = append(out, model.FileObject{
				Key:          key,
				Name:         store.FileNameFromKey(key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return out, nil
}

// Exists issues a HeadObject.
func (b *Blobs) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s: %w", key, err)
}

// SignedGetURL presigns a GetObject request valid for ttl.
func (b *Blobs) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return req.URL, nil
}

func isPreconditionFailed(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "NotFound"
}
