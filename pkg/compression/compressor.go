// Package compression encodes serialized event batches before they leave the
// connector, for the intake, file and s3 sinks.
//
// # Algorithm Selection
//
//   - Gzip: what HTTP intakes accept as Content-Encoding, the default
//   - Zstd: best ratio for archived batches
//   - Snappy/S2/LZ4: fastest, for local files
//   - None: plain newline-delimited JSON
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Gzip,
//	    Level:     compression.Default,
//	})
//	compressed, err := comp.Compress(data)
//	name := "events" + comp.Extension()
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy framed compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// ParseAlgorithm maps a configuration value to an Algorithm. The empty
// string is None.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Best maximizes compression ratio.
	Best Level = 9
)

// Compressor compresses whole batches. All implementations are safe for
// concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes.
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data and returns the original bytes.
	Decompress(data []byte) ([]byte, error)

	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm

	// Extension is the file suffix for compressed output, "" for None.
	Extension() string

	// ContentEncoding is the HTTP Content-Encoding value, "" when the
	// algorithm has none.
	ContentEncoding() string
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level
}

// DefaultConfig returns gzip at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: Gzip,
		Level:     Default,
	}
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config)
	case Snappy:
		return snappyCompressor{}, nil
	case S2:
		return s2Compressor{}, nil
	case LZ4:
		return newLZ4Compressor(config), nil
	case Zstd:
		return newZstdCompressor(config)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return None }
func (noneCompressor) Extension() string                      { return "" }
func (noneCompressor) ContentEncoding() string                { return "" }

type gzipCompressor struct {
	writerPool sync.Pool
}

func newGzipCompressor(config *Config) (*gzipCompressor, error) {
	level := mapGzipLevel(config.Level)
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		return nil, err
	}

	gc := &gzipCompressor{}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}
	return gc, nil
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (gc *gzipCompressor) Algorithm() Algorithm    { return Gzip }
func (gc *gzipCompressor) Extension() string       { return ".gz" }
func (gc *gzipCompressor) ContentEncoding() string { return "gzip" }

func mapGzipLevel(level Level) int {
	switch {
	case level <= 0:
		return gzip.DefaultCompression
	case level <= Fastest:
		return gzip.BestSpeed
	case level >= Best:
		return gzip.BestCompression
	default:
		return int(level)
	}
}

// Snappy compressor, framed format
type snappyCompressor struct{}

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
}

func (snappyCompressor) Algorithm() Algorithm    { return Snappy }
func (snappyCompressor) Extension() string       { return ".sz" }
func (snappyCompressor) ContentEncoding() string { return "" }

// S2 compressor, block format
type s2Compressor struct{}

func (s2Compressor) Compress(data []byte) ([]byte, error)   { return s2.Encode(nil, data), nil }
func (s2Compressor) Decompress(data []byte) ([]byte, error) { return s2.Decode(nil, data) }
func (s2Compressor) Algorithm() Algorithm                   { return S2 }
func (s2Compressor) Extension() string                      { return ".s2" }
func (s2Compressor) ContentEncoding() string                { return "" }

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func newLZ4Compressor(config *Config) *lz4Compressor {
	level := lz4.Fast
	switch {
	case config.Level >= Best:
		level = lz4.Level9
	case config.Level > Default:
		level = lz4.Level5
	}
	return &lz4Compressor{level: level}
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

func (lc *lz4Compressor) Algorithm() Algorithm    { return LZ4 }
func (lc *lz4Compressor) Extension() string       { return ".lz4" }
func (lc *lz4Compressor) ContentEncoding() string { return "" }

type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(config *Config) (*zstdCompressor, error) {
	level := zstd.SpeedDefault
	switch {
	case config.Level >= Best:
		level = zstd.SpeedBestCompression
	case config.Level > Default:
		level = zstd.SpeedBetterCompression
	case config.Level > 0 && config.Level <= Fastest:
		level = zstd.SpeedFastest
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.decoder.DecodeAll(data, nil)
}

func (zc *zstdCompressor) Algorithm() Algorithm    { return Zstd }
func (zc *zstdCompressor) Extension() string       { return ".zst" }
func (zc *zstdCompressor) ContentEncoding() string { return "zstd" }
