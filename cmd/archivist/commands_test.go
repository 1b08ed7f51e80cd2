package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/smartystreets/goconvey/convey"
)

const testConfig = `
app:
  log_level: error
backup:
  directory: %[1]s/backups
  file_name: cli
  compression: zip
  databases: [%[2]s]
  directories:
    files: %[1]s/files
connections:
  - id: app
    engine: sqlite
    database: %[1]s/app.db
  - id: broken
    engine: sqlite
    database: %[1]s/missing/broken.db
`

func setup(t *testing.T, databases string) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"backups", "files"} {
		if err := os.Mkdir(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "files", "a.txt"), []byte("alpha"), 0644); err != nil {
		t.Fatal(err)
	}

	db, err := sqlx.Open("sqlite3", filepath.Join(root, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY); INSERT INTO t VALUES (1);"); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(testConfig, root, databases)), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	Convey("Given a config with a SQLite database", t, func() {
		Convey("create writes a backup and restore reads it back", func() {
			configPath := setup(t, "app")

			out, err := run("create", "--config", configPath)
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Created ")
			So(out, ShouldContainSubstring, "_cli.zip")

			backups, err := filepath.Glob(filepath.Join(filepath.Dir(configPath), "backups", "*_cli.zip"))
			So(err, ShouldBeNil)
			So(backups, ShouldHaveLength, 1)

			out, err = run("restore", filepath.Base(backups[0]), "--config", configPath)
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Restored "+backups[0])

			out, err = run("cleanup", "--config", configPath)
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Expired: 0, deleted: 0")
		})

		Convey("a partial failure only fails in strict mode", func() {
			configPath := setup(t, "app, broken")

			out, err := run("create", "--config", configPath)
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "failed database broken")

			_, err = run("create", "--strict", "--config", configPath)
			var partial *partialError
			So(errors.As(err, &partial), ShouldBeTrue)
			So(partial.failed, ShouldEqual, 1)
		})

		Convey("restore needs a file argument", func() {
			_, err := run("restore", "--config", setup(t, "app"))
			So(err, ShouldNotBeNil)
		})

		Convey("a missing config file is reported", func() {
			_, err := run("cleanup", "--config", filepath.Join(t.TempDir(), "none.yaml"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "load config")
		})
	})
}
