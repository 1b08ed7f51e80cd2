package compressor

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

type Bzip2Compressor struct {
	level int
}

func NewBzip2() *Bzip2Compressor {
	return &Bzip2Compressor{level: bzip2.BestCompression}
}

func (b *Bzip2Compressor) Extension() string {
	return ".bz2"
}

func (b *Bzip2Compressor) Compress(sourcePath, destPath string) error {
	return encodeFile(sourcePath, destPath, func(w io.Writer) (io.WriteCloser, error) {
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: b.level})
	})
}

func (b *Bzip2Compressor) Decompress(sourcePath, destPath string) error {
	return decodeFile(sourcePath, destPath, b.NewReader)
}

func (b *Bzip2Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	bzipReader, err := bzip2.NewReader(r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bzip2 reader: %w", err)
	}
	return bzipReader, nil
}
