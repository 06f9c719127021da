// Package eventarchive keeps a copy of raw webhook bodies in S3-compatible
// object storage.
package eventarchive

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/hauntedempire/paycore/internal/pkg/config"
)

const uploadTimeout = 10 * time.Second

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ObjectPutter is the part of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive uploads webhook payloads. A nil *Archive is valid and archives nothing.
type Archive struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

// New returns nil when archiving is disabled.
func New(ctx context.Context, cfg config.Archive) (*Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services such as B2 or MinIO need path-style URLs.
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Archiving webhook payloads to bucket %s", cfg.BucketName)
	return NewWithClient(client, cfg.BucketName), nil
}

// NewWithClient builds an archive over an existing client.
func NewWithClient(client ObjectPutter, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket, now: time.Now}
}

// ObjectKey returns webhooks/YYYY/MM/<event id>.json.
func ObjectKey(eventID string, at time.Time) string {
	id := unsafeKeyChars.ReplaceAllString(eventID, "_")
	if id == "" {
		id = fmt.Sprintf("unknown-%d", at.UnixNano())
	}
	return fmt.Sprintf("webhooks/%04d/%02d/%s.json", at.Year(), int(at.Month()), id)
}

// Store uploads payload and returns the object key. Callers treat errors as
// non-fatal.
func (a *Archive) Store(ctx context.Context, eventID string, payload []byte) (string, error) {
	if a == nil {
		return "", nil
	}
	key := ObjectKey(eventID, a.now().UTC())

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	log.Debugf("[Archive] Stored webhook %s at s3://%s/%s", eventID, a.bucket, key)
	return key, nil
}
