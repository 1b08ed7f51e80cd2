package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/semmidev/archivist/internal/domain"
)

// tarArchive backs the tar, gzip and bzip2 formats. Compressing variants
// write an intermediate tar next to the final file and compress it on Close.
type tarArchive struct {
	handleState
	working   string
	codec     domain.Codec
	skipFiles []string

	file   *os.File
	writer *tar.Writer
}

func (a *tarArchive) Open() error {
	if a.closed {
		return archiveErrorf("archive %s is closed", a.path)
	}
	if a.opened {
		return nil
	}

	if !a.create {
		if !fileExists(a.path) {
			return archiveErrorf("archive %s does not exist", a.path)
		}
		a.opened = true
		return nil
	}

	f, err := os.Create(a.working)
	if err != nil {
		return archiveErrorf("failed to create archive: %w", err)
	}
	a.file = f
	a.writer = tar.NewWriter(f)
	a.opened = true
	return nil
}

func (a *tarArchive) AddFile(entry, source string) error {
	if err := a.writable(); err != nil {
		return err
	}
	info, err := os.Stat(source)
	if err != nil {
		return archiveErrorf("failed to stat %s: %w", source, err)
	}
	if !info.Mode().IsRegular() {
		return archiveErrorf("%s is not a regular file", source)
	}
	return a.write(entryName(entry, filepath.Base(source)), source, info)
}

func (a *tarArchive) AddFolder(entry string, dir domain.Directory) error {
	if err := a.writable(); err != nil {
		return err
	}
	err := walkFolder(dir, a.skipFiles, func(e folderEntry) error {
		return a.write(entryName(entry, e.rel), e.abs, e.info)
	})
	if err != nil {
		return archiveErrorf("failed to add folder %s: %w", dir.Path, err)
	}
	return nil
}

func (a *tarArchive) write(name, source string, info os.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return archiveErrorf("failed to build header for %s: %w", source, err)
	}
	header.Name = name
	header.Format = tar.FormatPAX

	f, err := os.Open(source)
	if err != nil {
		return archiveErrorf("failed to open %s: %w", source, err)
	}
	defer f.Close()

	if err := a.writer.WriteHeader(header); err != nil {
		return archiveErrorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.CopyN(a.writer, f, header.Size); err != nil {
		return archiveErrorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (a *tarArchive) ExtractFile(entry, destination string) error {
	if err := a.readable(); err != nil {
		return err
	}
	entry = path.Clean(entry)

	found := false
	err := a.each(func(h *tar.Header, r io.Reader) (bool, error) {
		if path.Clean(h.Name) != entry {
			return false, nil
		}
		found = true
		return true, writeFile(destination, r, h.FileInfo().Mode(), h.ModTime)
	})
	if err != nil {
		return archiveErrorf("failed to extract %s: %w", entry, err)
	}
	if !found {
		return archiveErrorf("entry %s not found in %s", entry, a.path)
	}
	if !fileExists(destination) {
		return archiveErrorf("entry %s was not written to %s", entry, destination)
	}
	return nil
}

func (a *tarArchive) ExtractFolder(entry, destination string) error {
	if err := a.readable(); err != nil {
		return err
	}
	prefix := strings.TrimSuffix(entry, "/") + "/"

	err := a.each(func(h *tar.Header, r io.Reader) (bool, error) {
		if h.Typeflag != tar.TypeReg || !strings.HasPrefix(h.Name, prefix) {
			return false, nil
		}
		target, err := safeJoin(destination, strings.TrimPrefix(h.Name, prefix))
		if err != nil {
			return false, err
		}
		return false, writeFile(target, r, h.FileInfo().Mode(), h.ModTime)
	})
	if err != nil {
		return archiveErrorf("failed to extract folder %s: %w", entry, err)
	}
	return nil
}

// each streams the archive through fn until fn asks to stop or entries run out.
func (a *tarArchive) each(fn func(*tar.Header, io.Reader) (bool, error)) error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if a.codec != nil {
		cr, err := a.codec.NewReader(f)
		if err != nil {
			return err
		}
		defer cr.Close()
		r = cr
	}

	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		stop, err := fn(h, tr)
		if err != nil || stop {
			return err
		}
	}
}

func (a *tarArchive) Close() error {
	if a.closed {
		return archiveErrorf("archive %s is already closed", a.path)
	}
	a.closed = true
	if !a.create || !a.opened {
		return nil
	}

	if err := a.finish(); err != nil {
		os.Remove(a.working)
		if a.working != a.path {
			os.Remove(a.path)
		}
		return err
	}
	return nil
}

func (a *tarArchive) finish() error {
	if err := a.writer.Close(); err != nil {
		a.file.Close()
		return archiveErrorf("failed to finalize tar: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return archiveErrorf("failed to close tar: %w", err)
	}
	if a.codec == nil {
		return nil
	}
	if err := a.codec.Compress(a.working, a.path); err != nil {
		return archiveErrorf("failed to compress %s: %w", a.working, err)
	}
	if err := os.Remove(a.working); err != nil {
		return archiveErrorf("failed to remove %s: %w", a.working, err)
	}
	return nil
}
