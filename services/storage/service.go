package storage

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/services/storage/aws_client"
)

// ObjectStorageService keeps objects in a single bucket of an S3 compatible
// store.
type ObjectStorageService struct {
	client aws_client.S3Client
	bucket string
}

func NewStorageService(client aws_client.S3Client, bucket string) *ObjectStorageService {
	return &ObjectStorageService{
		client: client,
		bucket: bucket,
	}
}

var _ interfaces.StorageService = (*ObjectStorageService)(nil)

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("size", len(data))

	if err := s.client.Upload(ctx, s.bucket, key, data, contentType); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to upload %s", key)
	}
	return nil
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	content, err := s.client.Download(ctx, s.bucket, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to download %s", key)
	}
	return content, nil
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := s.client.Delete(ctx, s.bucket, key); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

// DeletePrefix keeps going past individual failures and reports the first.
func (s *ObjectStorageService) DeletePrefix(ctx context.Context, prefix string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.DeletePrefix")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if prefix == "" {
		return errors.New("refusing to delete an empty prefix")
	}

	keys, err := s.client.ListKeys(ctx, s.bucket, prefix)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to list %s", prefix)
	}
	span.LogKV("objects", len(keys))

	var firstErr error
	for _, key := range keys {
		if err := s.client.Delete(ctx, s.bucket, key); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to delete %s", key)
		}
	}
	if firstErr != nil {
		tracing.TraceErr(span, firstErr)
	}
	return firstErr
}
