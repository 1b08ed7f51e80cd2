package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/semmidev/archivist/internal/domain"
)

type folderEntry struct {
	rel  string
	abs  string
	info fs.FileInfo
}

// walkFolder calls fn for every regular file under dir in lexical order,
// skipping names matched by skipFiles and, when the directory carries a
// pattern, files matching neither by base name nor by relative path.
func walkFolder(dir domain.Directory, skipFiles []string, fn func(folderEntry) error) error {
	root := filepath.Clean(dir.Path)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if skipped(d.Name(), skipFiles) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if dir.Pattern != "" && !included(dir.Pattern, d.Name(), rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		return fn(folderEntry{rel: rel, abs: p, info: fi})
	})
}

func skipped(name string, skipFiles []string) bool {
	for _, glob := range skipFiles {
		if ok, _ := path.Match(glob, name); ok {
			return true
		}
	}
	return false
}

func included(pattern, name, rel string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	ok, _ := path.Match(pattern, rel)
	return ok
}

func entryName(entry, rel string) string {
	return strings.TrimSuffix(entry, "/") + "/" + rel
}

// safeJoin resolves an archive member below destination and refuses names
// that would escape it.
func safeJoin(destination, rel string) (string, error) {
	target := filepath.Join(destination, filepath.FromSlash(rel))
	r, err := filepath.Rel(destination, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes %s", rel, destination)
	}
	return target, nil
}

// writeFile copies r into destination, creating parent directories.
func writeFile(destination string, r io.Reader, mode fs.FileMode, modTime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if mode.Perm() == 0 {
		mode = 0644
	}

	f, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destination, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", destination, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", destination, err)
	}
	if !modTime.IsZero() {
		_ = os.Chtimes(destination, modTime, modTime)
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
