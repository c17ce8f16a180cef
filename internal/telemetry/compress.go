package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Compressor applies symmetric compression to streamed snapshot payloads.
// The Name is advertised alongside every frame so consumers can pick the
// matching decoder.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// gzipCompressor recycles writers through a pool; snapshot frames arrive at a
// steady cadence and allocating a fresh encoder per frame shows up in profiles.
type gzipCompressor struct {
	writers sync.Pool
}

// NewGZIPCompressor constructs the default stream compressor.
func NewGZIPCompressor() Compressor {
	return &gzipCompressor{
		writers: sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }},
	}
}

func (*gzipCompressor) Name() string { return "gzip" }

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	writer := c.writers.Get().(*gzip.Writer)
	defer c.writers.Put(writer)

	var buf bytes.Buffer
	writer.Reset(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (*gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return raw, nil
}

// snappyCompressor trades ratio for speed; useful when consumers sit on the
// same host and CPU matters more than bandwidth.
type snappyCompressor struct{}

// NewSnappyCompressor constructs a snappy block compressor.
func NewSnappyCompressor() Compressor {
	return snappyCompressor{}
}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return raw, nil
}
