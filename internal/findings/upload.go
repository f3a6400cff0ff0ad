package findings

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
)

// Uploader copies run artifacts to an S3 bucket under <prefix>/<run-id>/.
type Uploader struct {
	bucket   string
	prefix   string
	uploader s3manageriface.UploaderAPI
	logger   hclog.Logger
}

// NewUploader creates an Uploader from the s3 directive. It returns nil when no
// bucket is configured.
func NewUploader(cfg *config.Config, logger hclog.Logger) (*Uploader, error) {
	if cfg == nil || cfg.S3.Bucket == "" {
		return nil, nil
	}
	awsCfg := &aws.Config{}
	if cfg.S3.Region != "" {
		awsCfg.Region = aws.String(cfg.S3.Region)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewUploaderWithAPI(cfg.S3.Bucket, cfg.S3.Prefix, s3manager.NewUploader(sess), logger), nil
}

// NewUploaderWithAPI creates an Uploader around an existing s3manager client.
func NewUploaderWithAPI(bucket, prefix string, api s3manageriface.UploaderAPI, logger hclog.Logger) *Uploader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Uploader{bucket: bucket, prefix: strings.Trim(prefix, "/"), uploader: api, logger: logger}
}

// Key returns the object key used for a local file in the given run.
func (u *Uploader) Key(runID, localPath string) string {
	return path.Join(u.prefix, runID, filepath.Base(localPath))
}

// Upload sends every existing file in paths and returns their s3:// locations.
// Empty paths and missing files are skipped.
func (u *Uploader) Upload(ctx context.Context, runID string, paths ...string) ([]string, error) {
	var locations []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		loc, err := u.uploadFile(ctx, runID, p)
		if err != nil {
			return locations, err
		}
		if loc != "" {
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

func (u *Uploader) uploadFile(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if os.IsNotExist(err) {
		u.logger.Debug("artifact not found, skipping upload", "path", localPath)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open %q for upload: %w", localPath, err)
	}
	defer f.Close()

	key := u.Key(runID, localPath)
	if _, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("failed to upload %q to bucket %q: %w", localPath, u.bucket, err)
	}
	location := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.logger.Info("artifact uploaded", "path", localPath, "location", location)
	return location, nil
}
