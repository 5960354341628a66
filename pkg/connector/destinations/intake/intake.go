// Package intake forwards event batches to an HTTP intake endpoint.
package intake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/clients"
	"github.com/ajitpratap0/withsecure-connector/pkg/compression"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// SinkName is the registry name of the intake sink.
const SinkName = "intake"

// DefaultChunkSize is the number of events per POST.
const DefaultChunkSize = 1000

// BatchPath is appended to the intake URL.
const BatchPath = "/batch"

func init() {
	_ = registry.RegisterSink(SinkName, func(cfg config.SinkConfig, deps registry.Dependencies) (core.Sink, error) {
		return New(cfg, deps)
	})
}

// Poster is the part of clients.HTTPClient the sink needs.
type Poster interface {
	Post(ctx context.Context, rawURL string, body io.Reader, headers map[string]string) (*clients.Response, error)
}

type batchRequest struct {
	IntakeKey string   `json:"intake_key"`
	Jsons     []string `json:"jsons"`
}

// Sink posts batches to <url>/batch in chunks.
type Sink struct {
	endpoint   string
	intakeKey  string
	chunkSize  int
	client     Poster
	compressor compression.Compressor
	logger     *zap.Logger
}

// New builds an intake sink with its own HTTP client.
func New(cfg config.SinkConfig, deps registry.Dependencies) (*Sink, error) {
	httpConfig := clients.DefaultHTTPConfig()
	httpConfig.RequestTimeout = cfg.Intake.Timeout

	var opts []clients.Option
	if deps.Metrics != nil {
		opts = append(opts, clients.WithMetrics(deps.Metrics))
	}
	client, err := clients.NewHTTPClient(httpConfig, deps.Logger, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithClient(cfg, client, deps.Logger)
}

// NewWithClient builds an intake sink on top of an existing client.
func NewWithClient(cfg config.SinkConfig, client Poster, logger *zap.Logger) (*Sink, error) {
	if cfg.Intake.URL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "intake url is required")
	}
	if cfg.Intake.IntakeKey == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "intake key is required")
	}

	algorithm, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid sink compression")
	}
	compressor, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: compression.Default})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compressor")
	}
	// the intake only decodes what it can announce in Content-Encoding
	if compressor.ContentEncoding() == "" && algorithm != compression.None {
		return nil, errors.New(errors.ErrorTypeConfig, "compression not supported by the intake").
			WithDetail("compression", string(algorithm))
	}

	chunkSize := cfg.Intake.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sink{
		endpoint:   strings.TrimRight(cfg.Intake.URL, "/") + BatchPath,
		intakeKey:  cfg.Intake.IntakeKey,
		chunkSize:  chunkSize,
		client:     client,
		compressor: compressor,
		logger:     logger.With(zap.String("sink", SinkName)),
	}, nil
}

func (s *Sink) Name() string { return SinkName }

// Push posts the batch chunk by chunk and stops at the first failed chunk.
func (s *Sink) Push(ctx context.Context, batch []string) error {
	for start := 0; start < len(batch); start += s.chunkSize {
		end := min(start+s.chunkSize, len(batch))
		if err := s.post(ctx, batch[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) post(ctx context.Context, chunk []string) error {
	payload, err := gojson.Marshal(batchRequest{IntakeKey: s.intakeKey, Jsons: chunk})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode intake batch")
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if encoding := s.compressor.ContentEncoding(); encoding != "" {
		if payload, err = s.compressor.Compress(payload); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress intake batch")
		}
		headers["Content-Encoding"] = encoding
	}

	resp, err := s.client.Post(ctx, s.endpoint, bytes.NewReader(payload), headers)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return errors.New(errors.ErrorTypePush,
			fmt.Sprintf("intake rejected the batch with status %d - %s", resp.StatusCode, resp.Reason)).
			WithDetail("status", resp.StatusCode)
	}

	s.logger.Debug("chunk accepted", zap.Int("events", len(chunk)), zap.Int("bytes", len(payload)))
	return nil
}

// Close releases the client's idle connections.
func (s *Sink) Close(ctx context.Context) error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
