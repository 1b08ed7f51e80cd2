package archive

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/semmidev/archivist/internal/domain"
)

type zipArchive struct {
	handleState
	skipFiles []string

	file   *os.File
	writer *zip.Writer
	reader *zip.ReadCloser
}

func (a *zipArchive) Open() error {
	if a.closed {
		return archiveErrorf("archive %s is closed", a.path)
	}
	if a.opened {
		return nil
	}

	if !a.create {
		r, err := zip.OpenReader(a.path)
		if err != nil {
			return archiveErrorf("failed to open archive: %w", err)
		}
		a.reader = r
		a.opened = true
		return nil
	}

	f, err := os.Create(a.path)
	if err != nil {
		return archiveErrorf("failed to create archive: %w", err)
	}
	a.file = f
	a.writer = zip.NewWriter(f)
	a.opened = true
	return nil
}

func (a *zipArchive) AddFile(entry, source string) error {
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

func (a *zipArchive) AddFolder(entry string, dir domain.Directory) error {
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

func (a *zipArchive) write(name, source string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return archiveErrorf("failed to build header for %s: %w", source, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	f, err := os.Open(source)
	if err != nil {
		return archiveErrorf("failed to open %s: %w", source, err)
	}
	defer f.Close()

	w, err := a.writer.CreateHeader(header)
	if err != nil {
		return archiveErrorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return archiveErrorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (a *zipArchive) ExtractFile(entry, destination string) error {
	if err := a.readable(); err != nil {
		return err
	}
	entry = path.Clean(entry)

	for _, f := range a.reader.File {
		if path.Clean(f.Name) != entry {
			continue
		}
		if err := extractZipFile(f, destination); err != nil {
			return archiveErrorf("failed to extract %s: %w", entry, err)
		}
		if !fileExists(destination) {
			return archiveErrorf("entry %s was not written to %s", entry, destination)
		}
		return nil
	}
	return archiveErrorf("entry %s not found in %s", entry, a.path)
}

func (a *zipArchive) ExtractFolder(entry, destination string) error {
	if err := a.readable(); err != nil {
		return err
	}
	prefix := strings.TrimSuffix(entry, "/") + "/"

	for _, f := range a.reader.File {
		if !strings.HasPrefix(f.Name, prefix) || f.FileInfo().IsDir() {
			continue
		}
		target, err := safeJoin(destination, strings.TrimPrefix(f.Name, prefix))
		if err != nil {
			return archiveErrorf("failed to extract folder %s: %w", entry, err)
		}
		if err := extractZipFile(f, target); err != nil {
			return archiveErrorf("failed to extract folder %s: %w", entry, err)
		}
	}
	return nil
}

func extractZipFile(f *zip.File, destination string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(destination, rc, f.Mode(), f.Modified)
}

func (a *zipArchive) Close() error {
	if a.closed {
		return archiveErrorf("archive %s is already closed", a.path)
	}
	a.closed = true
	if !a.opened {
		return nil
	}

	if !a.create {
		if err := a.reader.Close(); err != nil {
			return archiveErrorf("failed to close archive: %w", err)
		}
		return nil
	}

	if err := a.writer.Close(); err != nil {
		a.file.Close()
		os.Remove(a.path)
		return archiveErrorf("failed to write central directory: %w", err)
	}
	if err := a.file.Close(); err != nil {
		os.Remove(a.path)
		return archiveErrorf("failed to close archive: %w", err)
	}
	return nil
}
