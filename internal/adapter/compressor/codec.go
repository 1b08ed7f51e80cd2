package compressor

import (
	"fmt"
	"io"
	"os"
)

type writerFunc func(io.Writer) (io.WriteCloser, error)

type readerFunc func(io.Reader) (io.ReadCloser, error)

// encodeFile streams sourcePath through the encoder into destPath. A partial
// destination is removed when anything fails.
func encodeFile(sourcePath, destPath string, newWriter writerFunc) (err error) {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if cerr := destFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close dest file: %w", cerr)
		}
		if err != nil {
			os.Remove(destPath)
		}
	}()

	w, err := newWriter(destFile)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	if _, err := io.Copy(w, sourceFile); err != nil {
		w.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}

	return nil
}

func decodeFile(sourcePath, destPath string, newReader readerFunc) (err error) {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	r, err := newReader(sourceFile)
	if err != nil {
		return err
	}
	defer r.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if cerr := destFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close dest file: %w", cerr)
		}
	}()

	if _, err := io.Copy(destFile, r); err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}

	return nil
}
