package s3remote

import (
  "github.com/aws/aws-sdk-go-v2/aws"
  "github.com/aws/aws-sdk-go-v2/service/s3"

  "github.com/sbrudenell/btrfs2s3/internal/config"
)

// NewS3Client builds a raw *s3.Client for ep, pointing it at a custom
// endpoint URL (for S3-compatible stores) when configured.
func NewS3Client(awsCfg aws.Config, ep config.EndpointConfig) *s3.Client {
  return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
    if ep.EndpointURL != "" {
      o.BaseEndpoint = aws.String(ep.EndpointURL)
      o.UsePathStyle = true
    }
  })
}
