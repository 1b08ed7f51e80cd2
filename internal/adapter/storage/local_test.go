package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func isArchive(name string) bool {
	for _, ext := range []string{".tar", ".tar.gz", ".tar.bz2", ".zip"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("backup"), 0644); err != nil {
		t.Fatal(err)
	}
	at := time.Now().Add(-age)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestLocalStorage(t *testing.T) {
	Convey("Given a backup directory", t, func() {
		tempDir := t.TempDir()
		ctx := context.Background()

		Convey("NewLocal creates missing directories", func() {
			nested := filepath.Join(tempDir, "new", "nested", "dir")
			storage, err := NewLocal(nested)

			So(err, ShouldBeNil)
			So(storage.basePath, ShouldEqual, nested)
			info, err := os.Stat(nested)
			So(err, ShouldBeNil)
			So(info.IsDir(), ShouldBeTrue)
		})

		Convey("Upload copies a finished backup into the directory", func() {
			storage, err := NewLocal(filepath.Join(tempDir, "mirror"))
			So(err, ShouldBeNil)

			source := filepath.Join(tempDir, "2024-01-01T000000+0000_backup.zip")
			So(os.WriteFile(source, []byte("zip bytes"), 0644), ShouldBeNil)

			So(storage.Upload(ctx, source, filepath.Base(source)), ShouldBeNil)
			content, err := os.ReadFile(storage.GetPath(filepath.Base(source)))
			So(err, ShouldBeNil)
			So(string(content), ShouldEqual, "zip bytes")

			Convey("Uploading a file onto itself is a no-op", func() {
				So(storage.Upload(ctx, storage.GetPath(filepath.Base(source)), filepath.Base(source)), ShouldBeNil)
				content, err := os.ReadFile(storage.GetPath(filepath.Base(source)))
				So(err, ShouldBeNil)
				So(string(content), ShouldEqual, "zip bytes")
			})
		})

		Convey("Upload of a missing file fails", func() {
			storage, _ := NewLocal(tempDir)
			err := storage.Upload(ctx, filepath.Join(tempDir, "missing.tar"), "missing.tar")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to open source")
		})

		Convey("With an archive filter", func() {
			storage, err := NewLocal(tempDir, WithFilter(isArchive))
			So(err, ShouldBeNil)

			touch(t, filepath.Join(tempDir, "2024-01-01T000000+0000_backup.tar.gz"), 48*time.Hour)
			touch(t, filepath.Join(tempDir, "2024-01-03T000000+0000_backup.zip"), time.Hour)
			touch(t, filepath.Join(tempDir, "notes.txt"), 48*time.Hour)
			touch(t, filepath.Join(tempDir, "db.sql"), 48*time.Hour)
			So(os.Mkdir(filepath.Join(tempDir, "old.tar"), 0755), ShouldBeNil)

			Convey("List only returns backup files", func() {
				files, err := storage.List(ctx)
				So(err, ShouldBeNil)
				So(files, ShouldResemble, []string{
					"2024-01-01T000000+0000_backup.tar.gz",
					"2024-01-03T000000+0000_backup.zip",
				})
			})

			Convey("GetOldFiles only returns backups past the cutoff", func() {
				files, err := storage.GetOldFiles(ctx, time.Now().Add(-24*time.Hour))
				So(err, ShouldBeNil)
				So(files, ShouldResemble, []string{"2024-01-01T000000+0000_backup.tar.gz"})
			})

			Convey("Delete removes a backup", func() {
				So(storage.Delete(ctx, "2024-01-01T000000+0000_backup.tar.gz"), ShouldBeNil)
				_, err := os.Stat(filepath.Join(tempDir, "2024-01-01T000000+0000_backup.tar.gz"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("Delete of a missing file fails", func() {
			storage, _ := NewLocal(tempDir)
			err := storage.Delete(ctx, "nonexistent.tar")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to delete file")
		})

		Convey("An unreadable directory is reported", func() {
			storage, _ := NewLocal(filepath.Join(tempDir, "gone"))
			So(os.Remove(filepath.Join(tempDir, "gone")), ShouldBeNil)

			_, err := storage.List(ctx)
			So(err, ShouldNotBeNil)
			_, err = storage.GetOldFiles(ctx, time.Now())
			So(err.Error(), ShouldContainSubstring, "failed to read directory")
		})
	})
}
