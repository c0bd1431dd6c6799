// Package mediastore copies media binaries from the remote origin into
// S3-compatible object storage, so the mirror can serve media even when the
// origin is unreachable. Copies are best-effort; the caller decides how to
// degrade on failure.
package mediastore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	sc "github.com/cmstack/mirrorsync/internal/server/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store mirrors media binaries under keys of the form
// sites/<siteID>/media/<remoteID>.
type S3Store struct {
	config     *sc.Config
	httpClient *http.Client
}

func NewS3Store(config *sc.Config) *S3Store {
	return &S3Store{
		config:     config,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *S3Store) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Store downloads the origin binary and writes it to the bucket, returning
// the object key.
func (s *S3Store) Store(ctx context.Context, siteID string, remoteID int64, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading media binary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading media binary: status %d", resp.StatusCode)
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("sites/%s/media/%d", siteID, remoteID)
	bucket := s.config.S3Bucket

	input := &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        resp.Body,
		ContentType: aws.String(resp.Header.Get("Content-Type")),
	}
	if resp.ContentLength >= 0 {
		input.ContentLength = aws.Int64(resp.ContentLength)
	}

	_, err = client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("storing media object %s: %w", key, err)
	}

	return key, nil
}
