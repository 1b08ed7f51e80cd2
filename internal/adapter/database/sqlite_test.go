package database

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/archivist/internal/domain"
)

const sqliteFixture = `
CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, score REAL, active BOOLEAN, avatar BLOB);
CREATE TABLE notes (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users(id), body TEXT);
CREATE INDEX notes_user ON notes (user_id);
CREATE VIEW active_users AS SELECT id, name FROM users WHERE active = 1;
CREATE TRIGGER notes_cleanup AFTER DELETE ON users BEGIN
  DELETE FROM notes WHERE user_id = OLD.id;
END;
INSERT INTO users (name, score, active, avatar) VALUES ('O''Brien', 1.5, 1, X'00FF10');
INSERT INTO users (name, score, active, avatar) VALUES ('', 0, 0, NULL);
INSERT INTO users (name, score, active, avatar) VALUES (NULL, NULL, NULL, X'');
INSERT INTO notes (user_id, body) VALUES (1, 'line one
line two; with semicolon');
INSERT INTO notes (user_id, body) VALUES (2, '-- looks like a comment');
`

func newSQLiteFixture(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sqlx.Open(sqliteDriver, path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(sqliteFixture); err != nil {
		t.Fatal(err)
	}
	return path
}

type userRow struct {
	ID     int64    `db:"id"`
	Name   *string  `db:"name"`
	Score  *float64 `db:"score"`
	Active *bool    `db:"active"`
	Avatar []byte   `db:"avatar"`
}

func readUsers(t *testing.T, path string) []userRow {
	t.Helper()
	db, err := sqlx.Open(sqliteDriver, path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var users []userRow
	if err := db.Select(&users, "SELECT id, name, score, active, avatar FROM users ORDER BY id"); err != nil {
		t.Fatal(err)
	}
	return users
}

func TestSQLiteDatabase(t *testing.T) {
	Convey("Given a SQLite database", t, func() {
		dir := t.TempDir()
		source := newSQLiteFixture(t, dir, "source.db")
		dumpPath := filepath.Join(dir, "source.sql")

		db := NewSQLite(domain.Connection{ID: "app", Database: source}, WithClock(fixedClock))
		So(db.Ping(t.Context()), ShouldBeNil)

		err := db.Dump(t.Context(), dumpPath)
		So(err, ShouldBeNil)

		content, err := os.ReadFile(dumpPath)
		So(err, ShouldBeNil)
		script := string(content)

		Convey("The script follows the SQLite dump layout", func() {
			So(script, ShouldStartWith, "-- SQLite dump\n")
			So(script, ShouldContainSubstring, "PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\n")
			So(script, ShouldContainSubstring, `DROP TABLE IF EXISTS "users";`)
			So(script, ShouldContainSubstring, "DELETE FROM sqlite_sequence;")
			So(script, ShouldContainSubstring, "X'00ff10'")
			So(script, ShouldContainSubstring, "'O''Brien'")
			So(script, ShouldContainSubstring, "'line one'||char(10)||'line two; with semicolon'")
			So(strings.TrimSpace(script), ShouldEndWith, "COMMIT;")

			notes := strings.Index(script, `DROP TABLE IF EXISTS "notes"`)
			users := strings.Index(script, `DROP TABLE IF EXISTS "users"`)
			view := strings.Index(script, "CREATE VIEW")
			index := strings.Index(script, "CREATE INDEX")
			trigger := strings.Index(script, "CREATE TRIGGER")
			So(notes, ShouldBeLessThan, users)
			So(users, ShouldBeLessThan, view)
			So(view, ShouldBeLessThan, index)
			So(index, ShouldBeLessThan, trigger)
		})

		Convey("Restoring into an empty file reproduces the data", func() {
			target := filepath.Join(dir, "target.db")
			restored := NewSQLite(domain.Connection{ID: "app", Database: target})
			So(restored.Restore(t.Context(), dumpPath), ShouldBeNil)

			So(readUsers(t, target), ShouldResemble, readUsers(t, source))

			conn, err := sqlx.Open(sqliteDriver, target)
			So(err, ShouldBeNil)
			defer conn.Close()

			var body string
			So(conn.Get(&body, "SELECT body FROM notes WHERE id = 1"), ShouldBeNil)
			So(body, ShouldEqual, "line one\nline two; with semicolon")
			So(conn.Get(&body, "SELECT body FROM notes WHERE id = 2"), ShouldBeNil)
			So(body, ShouldEqual, "-- looks like a comment")

			var seq int64
			So(conn.Get(&seq, "SELECT seq FROM sqlite_sequence WHERE name = 'users'"), ShouldBeNil)
			So(seq, ShouldEqual, 3)

			var objects int
			So(conn.Get(&objects, "SELECT COUNT(*) FROM sqlite_master WHERE name IN ('active_users', 'notes_user', 'notes_cleanup')"), ShouldBeNil)
			So(objects, ShouldEqual, 3)
		})

		Convey("Restoring over the source keeps it intact", func() {
			So(db.Restore(t.Context(), dumpPath), ShouldBeNil)
			So(len(readUsers(t, source)), ShouldEqual, 3)
		})

		Convey("A small batch ceiling splits inserts without losing rows", func() {
			small := NewSQLite(domain.Connection{ID: "app", Database: source}, WithBatchSize(1))
			smallPath := filepath.Join(dir, "small.sql")
			So(small.Dump(t.Context(), smallPath), ShouldBeNil)

			content, err := os.ReadFile(smallPath)
			So(err, ShouldBeNil)
			So(strings.Count(string(content), `INSERT INTO "users"`), ShouldEqual, 3)

			target := filepath.Join(dir, "small.db")
			So(NewSQLite(domain.Connection{ID: "app", Database: target}).Restore(t.Context(), smallPath), ShouldBeNil)
			So(readUsers(t, target), ShouldResemble, readUsers(t, source))
		})

		Convey("Dumping again at another time changes only the timestamp line", func() {
			later := NewSQLite(domain.Connection{ID: "app", Database: source}, WithClock(func() time.Time {
				return fixedClock().Add(36 * time.Hour)
			}))
			laterPath := filepath.Join(dir, "later.sql")
			So(later.Dump(t.Context(), laterPath), ShouldBeNil)

			again, err := os.ReadFile(laterPath)
			So(err, ShouldBeNil)
			So(string(again), ShouldNotEqual, script)
			So(withoutDumpTime(string(again)), ShouldEqual, withoutDumpTime(script))
		})
	})
}

func withoutDumpTime(script string) string {
	lines := strings.Split(script, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.HasPrefix(line, "-- Dumped at:") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

type storedValue struct {
	Kind string  `db:"kind"`
	Text *string `db:"text"`
}

func readValues(t *testing.T, path string) []storedValue {
	t.Helper()
	db, err := sqlx.Open(sqliteDriver, path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var values []storedValue
	if err := db.Select(&values, "SELECT typeof(n) AS kind, CAST(n AS TEXT) AS text FROM t ORDER BY rowid"); err != nil {
		t.Fatal(err)
	}
	return values
}

func TestSQLiteNumericLookalikes(t *testing.T) {
	Convey("Given numeric columns holding text that is not a SQL number", t, func() {
		dir := t.TempDir()
		source := filepath.Join(dir, "source.db")
		conn, err := sqlx.Open(sqliteDriver, source)
		So(err, ShouldBeNil)
		_, err = conn.Exec(`CREATE TABLE t (n INTEGER);
INSERT INTO t (n) VALUES ('nan'), ('Infinity'), ('0x1p-2'), ('$1,234.56'), (9e999), (-9e999), ('12'), (2.5);`)
		So(err, ShouldBeNil)
		So(conn.Close(), ShouldBeNil)

		dumpPath := filepath.Join(dir, "source.sql")
		So(NewSQLite(domain.Connection{ID: "app", Database: source}).Dump(t.Context(), dumpPath), ShouldBeNil)
		content, err := os.ReadFile(dumpPath)
		So(err, ShouldBeNil)
		script := string(content)

		Convey("Only real numbers are written unquoted", func() {
			So(script, ShouldContainSubstring, "('nan'),")
			So(script, ShouldContainSubstring, "('Infinity'),")
			So(script, ShouldContainSubstring, "('0x1p-2'),")
			So(script, ShouldContainSubstring, "(9e999),")
			So(script, ShouldContainSubstring, "(-9e999),")
			So(script, ShouldContainSubstring, "(12),")
			So(script, ShouldNotContainSubstring, "Inf)")
		})

		Convey("Restoring into a new file keeps every value and its type", func() {
			target := filepath.Join(dir, "target.db")
			So(NewSQLite(domain.Connection{ID: "app", Database: target}).Restore(t.Context(), dumpPath), ShouldBeNil)

			values := readValues(t, target)
			So(values, ShouldResemble, readValues(t, source))
			So(values[0].Kind, ShouldEqual, "text")
			So(values[4].Kind, ShouldEqual, "real")
		})
	})
}

func TestSQLiteRestoreFailure(t *testing.T) {
	Convey("Given a script with a bad statement inside its transaction", t, func() {
		dir := t.TempDir()
		script := filepath.Join(dir, "broken.sql")
		So(os.WriteFile(script, []byte(strings.Join([]string{
			"-- SQLite dump",
			"BEGIN TRANSACTION;",
			"CREATE TABLE a (x INTEGER);",
			"INSERT INTO a (x) VALUES",
			"(1);",
			"INSERT INTO missing VALUES (1);",
			"COMMIT;",
		}, "\n")), 0644), ShouldBeNil)

		target := filepath.Join(dir, "target.db")
		err := NewSQLite(domain.Connection{ID: "app", Database: target}).Restore(t.Context(), script)

		Convey("Replay stops at the failing statement", func() {
			var stmtErr *domain.StatementError
			So(errors.As(err, &stmtErr), ShouldBeTrue)
			So(errors.Is(err, domain.ErrStatement), ShouldBeTrue)
			So(stmtErr.Line, ShouldEqual, 6)
			So(stmtErr.Statement, ShouldContainSubstring, "missing")
		})

		Convey("The uncommitted work is rolled back", func() {
			conn, err := sqlx.Open(sqliteDriver, target)
			So(err, ShouldBeNil)
			defer conn.Close()

			var tables int
			So(conn.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'a'"), ShouldBeNil)
			So(tables, ShouldEqual, 0)
		})
	})

	Convey("Given a database file that does not exist", t, func() {
		db := NewSQLite(domain.Connection{ID: "app", Database: filepath.Join(t.TempDir(), "nope.db")})

		Convey("Dump fails with a connection error", func() {
			err := db.Dump(t.Context(), filepath.Join(t.TempDir(), "out.sql"))
			So(errors.Is(err, domain.ErrConnection), ShouldBeTrue)
		})
	})
}
