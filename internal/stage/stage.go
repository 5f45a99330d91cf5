// Package stage copies input data from its source location to fast local
// storage ahead of an external tool invocation. Local paths pass through
// untouched; s3:// URLs are downloaded. Compressed inputs stay compressed:
// the tools consume gzip streams natively.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the object-store client used for s3:// inputs.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Stager resolves input references to local paths.
type Stager struct {
	s3  *minio.Client
	log *slog.Logger
}

// New builds a Stager. s3 may be nil-configured (empty endpoint) when all
// inputs are local; staging an s3:// path then fails with a clear error.
func New(opts S3Options, log *slog.Logger) (*Stager, error) {
	st := &Stager{log: log}
	if st.log == nil {
		st.log = slog.Default()
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		return st, nil
	}
	access := strings.TrimSpace(opts.AccessKey)
	secret := strings.TrimSpace(opts.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("stage: s3 access key and secret key are required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("stage: init s3 client: %w", err)
	}
	st.s3 = client
	return st, nil
}

// IsRemote reports whether src needs staging.
func IsRemote(src string) bool { return strings.HasPrefix(src, "s3://") }

// Stage makes src available locally under destDir and returns the local
// path. Local sources are returned as-is without copying.
func (s *Stager) Stage(ctx context.Context, src, destDir string) (string, error) {
	if !IsRemote(src) {
		return src, nil
	}
	if s.s3 == nil {
		return "", fmt.Errorf("stage: %s is remote but no s3 endpoint is configured", src)
	}
	bucket, key, err := splitS3URL(src)
	if err != nil {
		return "", err
	}
	local := filepath.Join(destDir, path.Base(key))
	s.log.Info("staging remote input", "src", src, "dest", local)
	if err := s.s3.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("stage %s: %w", src, err)
	}
	return local, nil
}

func splitS3URL(src string) (bucket, key string, err error) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "s3" || u.Host == "" || u.Path == "" {
		return "", "", fmt.Errorf("stage: malformed s3 url %q", src)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
