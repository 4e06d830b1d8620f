package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
)

// Compressor compresses binary cache payloads
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
	Name() string
}

// CompressorType represents different compression algorithms
type CompressorType string

const (
	CompressorNone    CompressorType = "none"
	CompressorGzip    CompressorType = "gzip"
	CompressorDeflate CompressorType = "deflate"
)

// Config holds compression configuration
type Config struct {
	// Enabled determines whether compression is enabled
	Enabled bool `yaml:"enabled"`

	// Algorithm specifies which compression algorithm to use
	Algorithm CompressorType `yaml:"algorithm"`

	// MinSize is the minimum payload size in bytes before compression is tried
	MinSize int `yaml:"min_size"`

	// Level is the compression level (1-9, -1 for the library default)
	Level int `yaml:"level"`
}

// NewDefaultConfig creates a default compression configuration (disabled)
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Algorithm: CompressorGzip,
		MinSize:   1024,
		Level:     -1,
	}
}

// WithEnabled sets whether compression is enabled
func (c *Config) WithEnabled(enabled bool) *Config {
	c.Enabled = enabled
	return c
}

// WithAlgorithm sets the compression algorithm
func (c *Config) WithAlgorithm(algorithm CompressorType) *Config {
	c.Algorithm = algorithm
	return c
}

// WithMinSize sets the minimum size threshold for compression
func (c *Config) WithMinSize(minSize int) *Config {
	c.MinSize = minSize
	return c
}

// NewCompressor creates a compressor based on the configuration
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil || !config.Enabled {
		return NewNoOpCompressor(), nil
	}

	switch config.Algorithm {
	case CompressorNone:
		return NewNoOpCompressor(), nil
	case CompressorGzip, "":
		return NewGzipCompressor(config.Level), nil
	case CompressorDeflate:
		return NewDeflateCompressor(config.Level), nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression algorithm: %s", config.Algorithm)
	}
}

// NoOpCompressor passes data through unchanged
type NoOpCompressor struct{}

// NewNoOpCompressor creates a new no-op compressor
func NewNoOpCompressor() *NoOpCompressor { return &NoOpCompressor{} }

func (n *NoOpCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (n *NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (n *NoOpCompressor) Name() string                           { return "none" }

// GzipCompressor implements compression using gzip
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a new gzip compressor with the specified level
func NewGzipCompressor(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

// Compress compresses data using gzip
func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	return finish(w, &buf, data)
}

// Decompress decompresses gzip data
func (g *GzipCompressor) Decompress(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GzipCompressor) Name() string { return "gzip" }

// DeflateCompressor implements compression using zlib/deflate
type DeflateCompressor struct {
	level int
}

// NewDeflateCompressor creates a new deflate compressor with the specified level
func NewDeflateCompressor(level int) *DeflateCompressor {
	return &DeflateCompressor{level: level}
}

// Compress compresses data using deflate
func (d *DeflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, d.level)
	if err != nil {
		return nil, fmt.Errorf("deflate writer: %w", err)
	}
	return finish(w, &buf, data)
}

// Decompress decompresses deflate data
func (d *DeflateCompressor) Decompress(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("deflate reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (d *DeflateCompressor) Name() string { return "deflate" }

func finish(w io.WriteCloser, buf *bytes.Buffer, data []byte) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write compressed data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close compressor: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	_ Compressor = (*NoOpCompressor)(nil)
	_ Compressor = (*GzipCompressor)(nil)
	_ Compressor = (*DeflateCompressor)(nil)
)
