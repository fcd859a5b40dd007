package transport

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor сжимает полезную нагрузку кадров.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCompressor возвращает компрессор по имени: "", "none", "gzip", "zstd".
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return passthroughCompressor{}, nil
	case "gzip":
		return gzipCompressor{}, nil
	case "zstd":
		return newZstdCompressor()
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

type passthroughCompressor struct{}

func (passthroughCompressor) Name() string                           { return "none" }
func (passthroughCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (passthroughCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// zstdCompressor EncodeAll/DecodeAll безопасны для конкурентного вызова
type zstdCompressor struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return z.dec.DecodeAll(data, nil)
}

// Close освобождает ресурсы кодека
func (z *zstdCompressor) Close() error {
	var err error
	z.once.Do(func() {
		err = z.enc.Close()
		z.dec.Close()
	})
	return err
}
