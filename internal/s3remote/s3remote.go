// Package s3remote is the concrete S3-backed remote collaborator: it
// implements inventory.RemoteLister and uploader.Client against a real
// bucket, plus batched deletion for the executor. Grounded on the
// teacher's aws_s3_storage.go (s3ObjectIterator, s3.NewFromConfig usage).
package s3remote

import (
  "context"
  "fmt"
  "io"

  "github.com/aws/aws-sdk-go-v2/aws"
  "github.com/aws/aws-sdk-go-v2/service/s3"
  "github.com/aws/aws-sdk-go-v2/service/s3/types"

  "github.com/sbrudenell/btrfs2s3/internal/inventory"
)

// Client is the narrow S3 surface used by this package, mirroring the
// teacher's usedS3If pattern (volume_store/aws_s3_storage).
type Client interface {
  ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
  PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
  CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
  UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
  CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
  AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
  DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Remote wraps an s3.Client (or any Client) bound to one bucket.
type Remote struct {
  client Client
  bucket string
}

// New returns a Remote backed by client for bucket.
func New(client Client, bucket string) *Remote {
  return &Remote{client: client, bucket: bucket}
}

// ListPage implements inventory.RemoteLister.
func (r *Remote) ListPage(ctx context.Context, prefix, continuationToken string) (inventory.RemotePage, error) {
  in := &s3.ListObjectsV2Input{Bucket: aws.String(r.bucket)}
  if prefix != "" {
    in.Prefix = aws.String(prefix)
  }
  if continuationToken != "" {
    in.ContinuationToken = aws.String(continuationToken)
  }
  out, err := r.client.ListObjectsV2(ctx, in)
  if err != nil {
    return inventory.RemotePage{}, fmt.Errorf("s3remote: ListObjectsV2: %w", err)
  }
  page := inventory.RemotePage{IsTruncated: out.IsTruncated}
  if out.NextContinuationToken != nil {
    page.NextContinuationToken = *out.NextContinuationToken
  }
  for _, obj := range out.Contents {
    page.Objects = append(page.Objects, inventory.RemoteObject{Key: aws.ToString(obj.Key)})
  }
  return page, nil
}

// PutObject implements uploader.Client.
func (r *Remote) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
  _, err := r.client.PutObject(ctx, &s3.PutObjectInput{
    Bucket: aws.String(bucket), Key: aws.String(key), Body: body, ContentLength: size,
  })
  return err
}

// CreateMultipartUpload implements uploader.Client.
func (r *Remote) CreateMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
  out, err := r.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
    Bucket: aws.String(bucket), Key: aws.String(key),
  })
  if err != nil {
    return "", err
  }
  return aws.ToString(out.UploadId), nil
}

// UploadPart implements uploader.Client.
func (r *Remote) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
  out, err := r.client.UploadPart(ctx, &s3.UploadPartInput{
    Bucket: aws.String(bucket), Key: aws.String(key), UploadId: aws.String(uploadID),
    PartNumber: partNumber, Body: body, ContentLength: size,
  })
  if err != nil {
    return "", err
  }
  return aws.ToString(out.ETag), nil
}

// CompleteMultipartUpload implements uploader.Client.
func (r *Remote) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, etags []string) error {
  parts := make([]types.CompletedPart, len(etags))
  for i, etag := range etags {
    parts[i] = types.CompletedPart{ETag: aws.String(etag), PartNumber: int32(i + 1)}
  }
  _, err := r.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
    Bucket: aws.String(bucket), Key: aws.String(key), UploadId: aws.String(uploadID),
    MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
  })
  return err
}

// AbortMultipartUpload implements uploader.Client.
func (r *Remote) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
  _, err := r.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
    Bucket: aws.String(bucket), Key: aws.String(key), UploadId: aws.String(uploadID),
  })
  return err
}

// DeleteObjects deletes keys in batches, one DeleteObjects call per at
// most 1000 keys, the S3 API limit.
func (r *Remote) DeleteObjects(ctx context.Context, keys []string) error {
  const maxBatch = 1000
  for start := 0; start < len(keys); start += maxBatch {
    end := start + maxBatch
    if end > len(keys) {
      end = len(keys)
    }
    ids := make([]types.ObjectIdentifier, end-start)
    for i, key := range keys[start:end] {
      ids[i] = types.ObjectIdentifier{Key: aws.String(key)}
    }
    _, err := r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
      Bucket: aws.String(r.bucket), Delete: &types.Delete{Objects: ids},
    })
    if err != nil {
      return fmt.Errorf("s3remote: DeleteObjects: %w", err)
    }
  }
  return nil
}
