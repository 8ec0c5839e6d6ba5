// Package backend turns a validated configuration into source and target
// directories.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openmined/mirrorbox/internal/config"
	"github.com/openmined/mirrorbox/internal/storage"
	"github.com/openmined/mirrorbox/internal/storage/localfs"
	"github.com/openmined/mirrorbox/internal/storage/s3fs"
	"github.com/openmined/mirrorbox/internal/utils"
)

// S3Client is what the backend needs from *s3.Client.
type S3Client interface {
	s3fs.API
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// NewS3Client builds the client for an s3 target. Tests replace it.
var NewS3Client = func(ctx context.Context, t config.TargetConfig) (S3Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOptions(t)...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if t.Endpoint != "" {
			o.BaseEndpoint = aws.String(t.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func awsOptions(t config.TargetConfig) []func(*awsconfig.LoadOptions) error {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if t.Region != "" {
		opts = append(opts, awsconfig.WithRegion(t.Region))
	}

	switch t.Credentials.Type {
	case config.CredentialsBasic:
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(t.Credentials.KeyID, t.Credentials.KeySecret, ""),
		))
	case config.CredentialsProfile:
		opts = append(opts, awsconfig.WithSharedConfigProfile(t.Credentials.Profile))
	}
	return opts
}

// Source returns the local source directory.
func Source(cfg *config.Config) *localfs.Dir {
	return localfs.NewOSDir(cfg.SourceDir)
}

// Target returns the target directory described by cfg.Target.
func Target(ctx context.Context, cfg *config.Config) (storage.Directory, error) {
	switch cfg.Target.Kind {
	case config.TargetLocal, "":
		return localfs.NewOSDir(cfg.Target.Path), nil
	case config.TargetS3:
		client, err := NewS3Client(ctx, cfg.Target)
		if err != nil {
			return nil, err
		}
		return s3fs.NewDir(client, cfg.Target.Bucket, cfg.Target.Prefix), nil
	default:
		return nil, fmt.Errorf("%w: unknown target kind %q", config.ErrConfigInvalid, cfg.Target.Kind)
	}
}

type CheckResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

func failed(format string, args ...any) CheckResult {
	return CheckResult{Message: fmt.Sprintf(format, args...)}
}

// Check validates cfg and probes the target: the bucket must be reachable
// with the configured credentials, a local target must be writable.
func Check(ctx context.Context, cfg *config.Config) CheckResult {
	if err := cfg.Validate(); err != nil {
		return failed("%v", err)
	}

	switch cfg.Target.Kind {
	case config.TargetS3:
		client, err := NewS3Client(ctx, cfg.Target)
		if err != nil {
			return failed("%v", err)
		}
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Target.Bucket)}); err != nil {
			return failed("bucket %q: %v", cfg.Target.Bucket, err)
		}
		return CheckResult{Passed: true, Message: fmt.Sprintf("bucket %q is reachable", cfg.Target.Bucket)}

	default:
		dir := cfg.Target.Path
		for !utils.DirExists(dir) {
			parent := filepath.Dir(dir)
			if parent == dir {
				return failed("no existing parent for %q", cfg.Target.Path)
			}
			dir = parent
		}
		if err := utils.ProbeWritable(dir); err != nil {
			return failed("%q is not writable: %v", dir, err)
		}
		return CheckResult{Passed: true, Message: fmt.Sprintf("%q is writable", cfg.Target.Path)}
	}
}
