package domain

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	MinExpireTime = 24 * time.Hour
	MaxExpireTime = 365 * 24 * time.Hour

	// SQLNamespace is the archive entry namespace reserved for database dumps.
	SQLNamespace = "sql"

	fileNameLayout = "2006-01-02T150405-0700"
)

// Compression selects the container format of a backup file.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionTar   Compression = "tar"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionZip   Compression = "zip"
)

func (c Compression) Valid() bool {
	switch c {
	case CompressionNone, CompressionTar, CompressionGzip, CompressionBzip2, CompressionZip:
		return true
	}
	return false
}

// Directory describes a tree to pack. Pattern, when set, is a glob that a
// file's base name or slash-separated relative path must match.
type Directory struct {
	Path    string
	Pattern string
}

// DirectoryMapping binds an archive entry namespace to a directory.
type DirectoryMapping struct {
	Name      string
	Directory Directory
}

// BackupSet is everything needed to produce, consume and expire backups.
type BackupSet struct {
	Directory   string
	FileName    string
	Compression Compression
	Directories []DirectoryMapping
	SkipFiles   []string
	Databases   []string
	ExpireTime  time.Duration
}

// Validate checks the set and returns an error wrapping ErrConfig.
func (s *BackupSet) Validate() error {
	if err := s.validateDirectory(); err != nil {
		return err
	}
	if s.ExpireTime < MinExpireTime {
		return configErrorf("expire time should be at least %d seconds", int64(MinExpireTime/time.Second))
	}
	if s.ExpireTime > MaxExpireTime {
		return configErrorf("expire time should be at most %d seconds", int64(MaxExpireTime/time.Second))
	}
	if s.FileName == "" {
		return configErrorf("file name can not be empty")
	}
	if strings.ContainsAny(s.FileName, `/\`) {
		return configErrorf("file name %q must not contain path separators", s.FileName)
	}
	if !s.Compression.Valid() {
		return configErrorf("compression %q is not a valid option", s.Compression)
	}
	if len(s.Databases) == 0 {
		return configErrorf("databases can not be empty")
	}
	seen := make(map[string]bool, len(s.Databases))
	for _, id := range s.Databases {
		if id == "" {
			return configErrorf("database id can not be empty")
		}
		if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			return configErrorf("database id %q is not a valid dump file name", id)
		}
		if seen[id] {
			return configErrorf("database %q is listed twice", id)
		}
		seen[id] = true
	}
	for _, glob := range s.SkipFiles {
		if _, err := path.Match(glob, ""); err != nil {
			return configErrorf("skip file pattern %q: %v", glob, err)
		}
	}
	return s.validateDirectories()
}

func (s *BackupSet) validateDirectory() error {
	if s.Directory == "" {
		return configErrorf("backup directory can not be empty")
	}
	info, err := os.Stat(s.Directory)
	if err != nil {
		return configErrorf("backup directory %q does not exist", s.Directory)
	}
	if !info.IsDir() {
		return configErrorf("backup directory %q is not a directory", s.Directory)
	}
	if err := unix.Access(s.Directory, unix.W_OK); err != nil {
		return configErrorf("backup directory %q is not writeable", s.Directory)
	}
	return nil
}

func (s *BackupSet) validateDirectories() error {
	names := make(map[string]bool, len(s.Directories))
	for _, m := range s.Directories {
		switch {
		case m.Name == "":
			return configErrorf("directory mapping name can not be empty")
		case m.Name == SQLNamespace:
			return configErrorf("directory mapping name %q is reserved for database dumps", SQLNamespace)
		case strings.ContainsAny(m.Name, `/\`) || m.Name == "." || m.Name == "..":
			return configErrorf("directory mapping name %q is not a valid entry namespace", m.Name)
		case names[m.Name]:
			return configErrorf("directory mapping %q is defined twice", m.Name)
		case m.Directory.Path == "":
			return configErrorf("directory mapping %q has no path", m.Name)
		}
		if m.Directory.Pattern != "" {
			if _, err := path.Match(m.Directory.Pattern, ""); err != nil {
				return configErrorf("directory mapping %q pattern: %v", m.Name, err)
			}
		}
		names[m.Name] = true
	}
	return nil
}

// SortDirectories orders mappings by name so every run walks them identically.
func (s *BackupSet) SortDirectories() {
	sort.SliceStable(s.Directories, func(i, j int) bool {
		return s.Directories[i].Name < s.Directories[j].Name
	})
}

// BackupName renders the extension-less file name for a backup taken at t.
func (s *BackupSet) BackupName(t time.Time) string {
	return t.Format(fileNameLayout) + "_" + s.FileName
}

// StagingPath is where the dump of the given connection is staged.
func (s *BackupSet) StagingPath(connectionID string) string {
	return filepath.Join(s.Directory, connectionID+".sql")
}

// DumpEntry is the archive entry holding the dump of the given connection.
func DumpEntry(connectionID string) string {
	return SQLNamespace + "/" + connectionID + ".sql"
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
