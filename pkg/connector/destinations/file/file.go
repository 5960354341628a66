// Package file writes each event batch to its own newline-delimited JSON
// file, optionally compressed.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/compression"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
	"github.com/ajitpratap0/withsecure-connector/pkg/pool"
)

// SinkName is the registry name of the file sink.
const SinkName = "file"

// TimestampLayout is the UTC timestamp embedded in file names.
const TimestampLayout = "20060102T150405Z"

func init() {
	_ = registry.RegisterSink(SinkName, func(cfg config.SinkConfig, deps registry.Dependencies) (core.Sink, error) {
		return New(cfg, deps.Logger)
	})
}

// Sink writes events-<timestamp>-<seq>.jsonl[.ext] files into a directory.
type Sink struct {
	directory  string
	compressor compression.Compressor
	logger     *zap.Logger
	now        func() time.Time
	seq        atomic.Uint64
}

// New creates the directory if needed and returns the sink.
func New(cfg config.SinkConfig, logger *zap.Logger) (*Sink, error) {
	if cfg.File.Directory == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "file sink directory is required")
	}
	algorithm, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid sink compression")
	}
	compressor, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: compression.Default})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compressor")
	}
	if err := os.MkdirAll(cfg.File.Directory, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create file sink directory").
			WithDetail("directory", cfg.File.Directory)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sink{
		directory:  cfg.File.Directory,
		compressor: compressor,
		logger:     logger.With(zap.String("sink", SinkName)),
		now:        time.Now,
	}, nil
}

func (s *Sink) Name() string { return SinkName }

// Push writes the batch to a new file. The file appears atomically under
// its final name.
func (s *Sink) Push(ctx context.Context, batch []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	for _, line := range batch {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	data, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress batch")
	}

	path := filepath.Join(s.directory, s.fileName())
	if err := writeAtomic(path, data); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to write batch file").
			WithDetail("path", path)
	}

	s.logger.Debug("batch written",
		zap.String("path", path),
		zap.Int("events", len(batch)),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *Sink) fileName() string {
	return fmt.Sprintf("events-%s-%06d.jsonl%s",
		s.now().UTC().Format(TimestampLayout), s.seq.Add(1), s.compressor.Extension())
}

func (s *Sink) Close(ctx context.Context) error { return nil }

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".batch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
