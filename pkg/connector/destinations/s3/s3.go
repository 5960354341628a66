// Package s3 uploads each event batch as one newline-delimited JSON object.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/compression"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/pool"
)

const (
	// SinkName is the registry name of the S3 sink.
	SinkName = "s3"

	defaultRegion         = "us-east-1"
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 4
	contentType           = "application/x-ndjson"
)

func init() {
	_ = registry.RegisterSink(SinkName, func(cfg config.SinkConfig, deps registry.Dependencies) (core.Sink, error) {
		return New(context.Background(), cfg, deps.Logger)
	})
}

// Uploader is the part of manager.Uploader the sink uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Sink writes <prefix>/yyyy/mm/dd/<timestamp>-<seq>.jsonl[.ext] objects.
type Sink struct {
	bucket     string
	prefix     string
	uploader   Uploader
	compressor compression.Compressor
	logger     *zap.Logger
	now        func() time.Time
	seq        atomic.Uint64
}

// New loads the default AWS credential chain and builds the uploader.
func New(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) (*Sink, error) {
	sc := cfg.S3
	region := sc.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = defaultUploadPartSize
		u.Concurrency = defaultMaxConcurrency
	})

	return NewWithUploader(cfg, uploader, logger)
}

// NewWithUploader builds the sink on top of an existing uploader.
func NewWithUploader(cfg config.SinkConfig, uploader Uploader, logger *zap.Logger) (*Sink, error) {
	if cfg.S3.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 bucket is required")
	}
	algorithm, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid sink compression")
	}
	compressor, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: compression.Default})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compressor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sink{
		bucket:     cfg.S3.Bucket,
		prefix:     strings.Trim(cfg.S3.Prefix, "/"),
		uploader:   uploader,
		compressor: compressor,
		logger:     logger.With(zap.String("sink", SinkName), zap.String("bucket", cfg.S3.Bucket)),
		now:        time.Now,
	}, nil
}

func (s *Sink) Name() string { return SinkName }

// Push uploads the batch as a single object.
func (s *Sink) Push(ctx context.Context, batch []string) error {
	start := time.Now()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	for _, line := range batch {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	content, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress batch")
	}

	key := s.objectKey()
	result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"events":      strconv.Itoa(len(batch)),
			"compression": string(s.compressor.Algorithm()),
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to upload to S3").
			WithDetail("key", key)
	}

	s.logger.Debug("batch uploaded to S3",
		zap.String("location", result.Location),
		zap.Int("events", len(batch)),
		zap.Int("bytes", len(content)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Sink) objectKey() string {
	now := s.now().UTC()
	name := fmt.Sprintf("%s-%06d.jsonl%s", now.Format("20060102T150405Z"), s.seq.Add(1), s.compressor.Extension())
	return path.Join(s.prefix, now.Format("2006/01/02"), name)
}

func (s *Sink) Close(ctx context.Context) error { return nil }
