package database

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/semmidev/archivist/internal/domain"
)

const sqliteDriver = "sqlite3"

var sqliteNumeric = regexp.MustCompile(`(?i)(int|real|floa|doub|numeric|decimal|boolean)`)

type SQLiteDatabase struct {
	base
}

func NewSQLite(conn domain.Connection, opts ...Option) *SQLiteDatabase {
	return &SQLiteDatabase{base: newBase(conn, domain.EngineSQLite, opts...)}
}

func (s *SQLiteDatabase) Dump(ctx context.Context, outputPath string) error {
	return s.dump(ctx, outputPath, sqliteDriver, s.dsn("mode=ro&_busy_timeout=5000"), s)
}

func (s *SQLiteDatabase) Restore(ctx context.Context, inputPath string) error {
	return s.restore(ctx, inputPath, sqliteDriver, s.dsn("_busy_timeout=5000&_txlock=exclusive"))
}

func (s *SQLiteDatabase) Ping(ctx context.Context) error {
	return s.ping(ctx, sqliteDriver, s.dsn("mode=ro&_busy_timeout=5000"))
}

func (s *SQLiteDatabase) file() string {
	if s.conn.DSN != "" {
		return s.conn.DSN
	}
	return s.conn.Database
}

func (s *SQLiteDatabase) dsn(params string) string {
	file := s.file()
	if !strings.HasPrefix(file, "file:") {
		file = "file:" + file
	}
	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	return file + sep + params
}

func (s *SQLiteDatabase) quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteDatabase) literal(v any, typeName string) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + hex.EncodeToString(t) + "'"
	case time.Time:
		return sqliteString(t.Format(sqlite3.SQLiteTimestampFormats[0]))
	case float64:
		if math.IsInf(t, 0) {
			return sqliteInfinity(t)
		}
	case string:
		if sqliteNumeric.MatchString(typeName) {
			if n, ok := numericLiteral(t); ok {
				return n
			}
		}
		return sqliteString(t)
	}
	if n, ok := numericLiteral(v); ok {
		return n
	}
	return sqliteString(stringOf(v))
}

// sqliteInfinity spells an infinite REAL as an overflowing literal, which is
// the only form SQLite reads back as infinity.
func sqliteInfinity(f float64) string {
	if f < 0 {
		return "-9e999"
	}
	return "9e999"
}

// sqliteString quotes s on a single line, splicing line breaks back in with
// char() so a row never spans several lines of the script.
func sqliteString(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, "'"+strings.ReplaceAll(cur.String(), "'", "''")+"'")
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '\n':
			flush()
			parts = append(parts, "char(10)")
		case '\r':
			flush()
			parts = append(parts, "char(13)")
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return "(" + strings.Join(parts, "||") + ")"
}

func (s *SQLiteDatabase) serverVersion(ctx context.Context, conn *sqlx.Conn) (string, error) {
	var version string
	err := conn.GetContext(ctx, &version, "SELECT sqlite_version()")
	return version, err
}

func (s *SQLiteDatabase) preamble() []string {
	return []string{
		"PRAGMA foreign_keys=OFF",
		"BEGIN TRANSACTION",
	}
}

func (s *SQLiteDatabase) postamble() []string {
	return []string{"COMMIT"}
}

type sqliteObject struct {
	Type  string `db:"type"`
	Name  string `db:"name"`
	Table string `db:"tbl_name"`
	SQL   string `db:"sql"`
}

const sqliteSequence = "sqlite_sequence"

func (s *SQLiteDatabase) writeObjects(ctx context.Context, conn *sqlx.Conn, w *dumpWriter) error {
	var objects []sqliteObject
	err := conn.SelectContext(ctx, &objects, "SELECT type, name, tbl_name, sql FROM sqlite_master WHERE sql IS NOT NULL ORDER BY name")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	sortNames(objects, func(o sqliteObject) string { return o.Name })

	byType := make(map[string][]sqliteObject)
	hasSequence := false
	for _, o := range objects {
		if o.Type == "table" && o.Name == sqliteSequence {
			hasSequence = true
			continue
		}
		if strings.HasPrefix(o.Name, "sqlite_") {
			continue
		}
		byType[o.Type] = append(byType[o.Type], o)
	}

	for _, t := range byType["table"] {
		w.comment("Table " + s.quoteIdent(t.Name))
		w.statement("DROP TABLE IF EXISTS " + s.quoteIdent(t.Name))
		w.definition(t.SQL)
		if err := writeRows(ctx, conn, w, s.quoteIdent(t.Name)); err != nil {
			return err
		}
		w.blank()
	}

	if hasSequence {
		w.statement("DELETE FROM " + sqliteSequence)
		if err := writeRows(ctx, conn, w, sqliteSequence); err != nil {
			return err
		}
		w.blank()
	}

	for _, v := range byType["view"] {
		w.statement("DROP VIEW IF EXISTS " + s.quoteIdent(v.Name))
		w.definition(v.SQL)
	}
	for _, idx := range byType["index"] {
		w.definition(idx.SQL)
	}
	for _, tr := range byType["trigger"] {
		w.definition(tr.SQL)
	}

	return w.err
}
