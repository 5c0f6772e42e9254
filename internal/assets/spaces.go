package assets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
	"github.com/joseph-ayodele/seedream-pipeline/internal/entity"
)

const defaultSpacesRegion = "sgp1"

// ObjectPutter is the slice of the S3 API the Spaces sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type SpacesConfig struct {
	OriginEndpoint string
	CDNEndpoint    string
	Bucket         string
	AccessKeyID    string
	SecretKey      string
	Folder         string
}

// SpacesSink uploads artifacts to a DigitalOcean Spaces bucket with a
// public-read ACL and reports the CDN URL.
type SpacesSink struct {
	client ObjectPutter
	bucket string
	folder string
	cdn    string
	logger *slog.Logger
}

// NewSpacesSink builds an S3 client for the region named in the origin endpoint.
func NewSpacesSink(ctx context.Context, cfg SpacesConfig, logger *slog.Logger) (*SpacesSink, error) {
	region := SpacesRegion(cfg.OriginEndpoint)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load spaces config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.digitaloceanspaces.com", region))
	})
	return NewSpacesSinkWithClient(client, cfg, logger), nil
}

func NewSpacesSinkWithClient(client ObjectPutter, cfg SpacesConfig, logger *slog.Logger) *SpacesSink {
	if logger == nil {
		logger = slog.Default()
	}
	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = "image_pipeline"
	}
	return &SpacesSink{
		client: client,
		bucket: cfg.Bucket,
		folder: folder,
		cdn:    strings.TrimRight(cfg.CDNEndpoint, "/"),
		logger: logger,
	}
}

// SpacesRegion extracts the region from an origin endpoint such as
// https://bucket.sgp1.digitaloceanspaces.com.
func SpacesRegion(originEndpoint string) string {
	u, err := url.Parse(originEndpoint)
	if err != nil {
		return defaultSpacesRegion
	}
	parts := strings.Split(u.Hostname(), ".")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return defaultSpacesRegion
}

// ObjectKey is the bucket key for a record's artifact.
func (s *SpacesSink) ObjectKey(id int64) string {
	return fmt.Sprintf("%s/%d.png", s.folder, id)
}

func (s *SpacesSink) Store(ctx context.Context, id int64, data []byte) (entity.OutputReference, error) {
	key := s.ObjectKey(id)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("image/png"),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		s.logger.Error("assets.sink.spaces.failed", "record_id", id, "key", key, "error", err)
		return entity.OutputReference{}, common.NewAppError(common.KindSink, fmt.Sprintf("upload %s", key), err)
	}
	publicURL := s.cdn + "/" + key
	s.logger.Info("assets.sink.spaces.ok", "record_id", id, "url", publicURL)
	return entity.OutputReference{PublicURL: publicURL}, nil
}
