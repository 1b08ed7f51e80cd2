// Package archive packs database dumps and directory trees into a single
// backup file and extracts them back.
package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/semmidev/archivist/internal/adapter/compressor"
	"github.com/semmidev/archivist/internal/domain"
)

// Format ties a compression selector to its file extension and codec.
type Format struct {
	Name      string
	Extension string
	Aliases   []string
	selectors []domain.Compression
	codec     domain.Codec
	zip       bool
}

var formats = []Format{
	{
		Name:      "tar",
		Extension: ".tar",
		selectors: []domain.Compression{domain.CompressionNone, domain.CompressionTar},
	},
	{
		Name:      "gzip",
		Extension: ".tar.gz",
		Aliases:   []string{".tgz"},
		selectors: []domain.Compression{domain.CompressionGzip},
		codec:     compressor.NewGzip(),
	},
	{
		Name:      "bzip2",
		Extension: ".tar.bz2",
		Aliases:   []string{".tbz2"},
		selectors: []domain.Compression{domain.CompressionBzip2},
		codec:     compressor.NewBzip2(),
	},
	{
		Name:      "zip",
		Extension: ".zip",
		selectors: []domain.Compression{domain.CompressionZip},
		zip:       true,
	},
}

// ForCompression returns the format selected by c.
func ForCompression(c domain.Compression) (Format, error) {
	for _, f := range formats {
		for _, s := range f.selectors {
			if s == c {
				return f, nil
			}
		}
	}
	return Format{}, fmt.Errorf("%w: unsupported compression %q", domain.ErrConfig, c)
}

// ForFile detects the format from the file extension, defaulting to tar.
func ForFile(file string) Format {
	name := strings.ToLower(filepath.Base(file))
	for _, f := range formats {
		if strings.HasSuffix(name, f.Extension) {
			return f
		}
		for _, alias := range f.Aliases {
			if strings.HasSuffix(name, alias) {
				return f
			}
		}
	}
	return formats[0]
}

// Extensions lists every file extension a backup file may carry.
func Extensions() []string {
	var exts []string
	for _, f := range formats {
		exts = append(exts, f.Extension)
		exts = append(exts, f.Aliases...)
	}
	return exts
}

// HasArchiveExtension reports whether file looks like a backup file.
func HasArchiveExtension(file string) bool {
	name := strings.ToLower(file)
	for _, ext := range Extensions() {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// New returns a handle that creates <dir>/<name><ext>.
func New(c domain.Compression, dir, name string, skipFiles []string) (domain.Archive, error) {
	f, err := ForCompression(c)
	if err != nil {
		return nil, err
	}
	final := filepath.Join(dir, name+f.Extension)
	return f.handle(final, true, skipFiles), nil
}

// Open returns a handle bound to an existing backup file.
func Open(file string, skipFiles []string) domain.Archive {
	return ForFile(file).handle(file, false, skipFiles)
}

// Factory exposes New and Open as a value for callers that take an archiver.
type Factory struct{}

func (Factory) Create(c domain.Compression, dir, name string, skipFiles []string) (domain.Archive, error) {
	return New(c, dir, name, skipFiles)
}

func (Factory) Open(file string, skipFiles []string) domain.Archive {
	return Open(file, skipFiles)
}

func (f Format) handle(final string, create bool, skipFiles []string) domain.Archive {
	state := handleState{path: final, create: create}
	if f.zip {
		return &zipArchive{handleState: state, skipFiles: skipFiles}
	}
	working := final
	if create && f.codec != nil {
		working = strings.TrimSuffix(final, f.Extension) + ".tar"
	}
	return &tarArchive{
		handleState: state,
		working:     working,
		codec:       f.codec,
		skipFiles:   skipFiles,
	}
}

func archiveErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %w", domain.ErrArchive, fmt.Errorf(format, args...))
}

// handleState tracks the lifecycle shared by every archive handle.
type handleState struct {
	path   string
	create bool
	opened bool
	closed bool
}

func (s *handleState) Path() string {
	return s.path
}

func (s *handleState) writable() error {
	switch {
	case s.closed:
		return archiveErrorf("archive %s is closed", s.path)
	case !s.create:
		return archiveErrorf("archive %s is opened for reading", s.path)
	case !s.opened:
		return archiveErrorf("archive %s is not open", s.path)
	}
	return nil
}

func (s *handleState) readable() error {
	switch {
	case s.closed:
		return archiveErrorf("archive %s is closed", s.path)
	case s.create:
		return archiveErrorf("archive %s is opened for writing", s.path)
	case !s.opened:
		return archiveErrorf("archive %s is not open", s.path)
	}
	return nil
}
