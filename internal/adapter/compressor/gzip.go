package compressor

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

type GzipCompressor struct {
	level int
}

func NewGzip() *GzipCompressor {
	return &GzipCompressor{level: gzip.BestCompression}
}

func (g *GzipCompressor) Extension() string {
	return ".gz"
}

func (g *GzipCompressor) Compress(sourcePath, destPath string) error {
	return encodeFile(sourcePath, destPath, func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, g.level)
	})
}

func (g *GzipCompressor) Decompress(sourcePath, destPath string) error {
	return decodeFile(sourcePath, destPath, g.NewReader)
}

func (g *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return gzipReader, nil
}
