// Package awsconfig builds an aws.Config for one endpoint from a
// config.EndpointConfig, grounded on the teacher's util.NewAwsConfig
// (util/aws_common.go): static credentials when configured, otherwise
// aws-sdk-go-v2's default resolution chain. A custom endpoint URL is not
// applied here; s3remote.NewS3Client sets it on the S3 client.
package awsconfig

import (
  "context"
  "crypto/tls"
  "net/http"

  "github.com/aws/aws-sdk-go-v2/aws"
  awsconfig "github.com/aws/aws-sdk-go-v2/config"
  "github.com/aws/aws-sdk-go-v2/credentials"

  "github.com/sbrudenell/btrfs2s3/internal/config"
)

// Load builds an aws.Config for ep. When ep.AccessKeyID is set, static
// credentials are used instead of the default provider chain. ep.Verify
// set to false disables TLS certificate verification, for talking to a
// self-signed S3-compatible endpoint in testing.
func Load(ctx context.Context, ep config.EndpointConfig) (aws.Config, error) {
  var opts []func(*awsconfig.LoadOptions) error
  if ep.Region != "" {
    opts = append(opts, awsconfig.WithRegion(ep.Region))
  }
  if ep.ProfileName != "" {
    opts = append(opts, awsconfig.WithSharedConfigProfile(ep.ProfileName))
  }
  if ep.AccessKeyID != "" {
    creds := credentials.NewStaticCredentialsProvider(ep.AccessKeyID, ep.SecretAccessKey, "")
    opts = append(opts, awsconfig.WithCredentialsProvider(creds))
  }
  if ep.Verify != nil && !*ep.Verify {
    transport := http.DefaultTransport.(*http.Transport).Clone()
    transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
    opts = append(opts, awsconfig.WithHTTPClient(&http.Client{Transport: transport}))
  }
  return awsconfig.LoadDefaultConfig(ctx, opts...)
}
