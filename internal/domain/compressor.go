package domain

import "io"

// Codec compresses whole files and decodes compressed streams.
type Codec interface {
	Extension() string
	Compress(sourcePath, destPath string) error
	Decompress(sourcePath, destPath string) error
	NewReader(r io.Reader) (io.ReadCloser, error)
}
