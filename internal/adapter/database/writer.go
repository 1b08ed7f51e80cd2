package database

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/semmidev/archivist/internal/domain"
)

// dialect renders identifiers and values for one engine.
type dialect interface {
	quoteIdent(name string) string
	literal(v any, typeName string) string
}

// dumpWriter writes a dump script. The first write error sticks and every
// later write becomes a no-op.
type dumpWriter struct {
	out       io.WriteCloser
	buf       *bufio.Writer
	d         dialect
	batchSize int
	err       error
}

func newDumpWriter(out io.WriteCloser, d dialect, batchSize int) *dumpWriter {
	return &dumpWriter{
		out:       out,
		buf:       bufio.NewWriterSize(out, 64*1024),
		d:         d,
		batchSize: batchSize,
	}
}

func (w *dumpWriter) write(s string) {
	if w.err != nil {
		return
	}
	_, w.err = w.buf.WriteString(s)
}

func (w *dumpWriter) header(engine domain.Engine, version, database string, at time.Time) {
	w.comment(engineTitle(engine) + " dump")
	w.comment("Server version: " + version)
	w.comment("Database: " + database)
	w.comment("Dumped at: " + at.Format(time.RFC3339))
	w.blank()
}

func (w *dumpWriter) comment(text string) {
	w.write("-- " + text + "\n")
}

func (w *dumpWriter) blank() {
	w.write("\n")
}

// statement writes a single-terminator statement.
func (w *dumpWriter) statement(stmt string) {
	stmt = strings.TrimRight(strings.TrimSpace(stmt), ";")
	w.write(stmt + ";\n")
}

// definition writes a schema object. Bodies holding their own terminators are
// fenced with DELIMITER so the replayer keeps them in one statement.
func (w *dumpWriter) definition(stmt string) {
	stmt = strings.TrimRight(strings.TrimSpace(stmt), ";")
	if !strings.Contains(stmt, ";") {
		w.write(stmt + ";\n\n")
		return
	}
	w.write("DELIMITER ;;\n")
	w.write(stmt + ";;\n")
	w.write("DELIMITER ;\n\n")
}

func (w *dumpWriter) close() error {
	if w.err == nil {
		w.err = w.buf.Flush()
	}
	if err := w.out.Close(); err != nil && w.err == nil {
		w.err = err
	}
	return w.err
}

// insertBatch groups row tuples under one INSERT header, one tuple per line,
// and ends the statement once it reaches the size ceiling.
type insertBatch struct {
	w      *dumpWriter
	header string
	limit  int
	size   int
	rows   int
}

func (b *insertBatch) add(tuple string) {
	if b.rows == 0 {
		b.w.write(b.header + "\n")
		b.size = len(b.header) + 1
	} else {
		b.w.write(",\n")
		b.size += 2
	}
	b.w.write(tuple)
	b.size += len(tuple)
	b.rows++
	if b.size >= b.limit {
		b.flush()
	}
}

func (b *insertBatch) flush() {
	if b.rows == 0 {
		return
	}
	b.w.write(";\n")
	b.rows = 0
	b.size = 0
}

// writeRows streams every row of target as batched INSERT statements.
// target must already be quoted.
func writeRows(ctx context.Context, conn *sqlx.Conn, w *dumpWriter, target string) error {
	return writeColumns(ctx, conn, w, target, "*", "")
}

// writeColumns is writeRows restricted to the selected columns. modifier is
// placed between the column list and VALUES of every INSERT.
func writeColumns(ctx context.Context, conn *sqlx.Conn, w *dumpWriter, target, columns, modifier string) error {
	rows, err := conn.QueryxContext(ctx, "SELECT "+columns+" FROM "+target)
	if err != nil {
		return fmt.Errorf("failed to select rows from %s: %w", target, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", target, err)
	}
	names := make([]string, len(types))
	typeNames := make([]string, len(types))
	for i, ct := range types {
		names[i] = w.d.quoteIdent(ct.Name())
		typeNames[i] = ct.DatabaseTypeName()
	}

	batch := &insertBatch{
		w:      w,
		header: fmt.Sprintf("INSERT INTO %s (%s)%s VALUES", target, strings.Join(names, ", "), modifier),
		limit:  w.batchSize,
	}
	values := make([]string, len(types))
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("failed to scan row of %s: %w", target, err)
		}
		for i, v := range row {
			values[i] = w.d.literal(v, typeNames[i])
		}
		batch.add("(" + strings.Join(values, ",") + ")")
		if w.err != nil {
			return w.err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows of %s: %w", target, err)
	}
	batch.flush()
	return w.err
}

func engineTitle(engine domain.Engine) string {
	switch engine {
	case domain.EngineMySQL:
		return "MySQL"
	case domain.EnginePostgreSQL:
		return "PostgreSQL"
	case domain.EngineSQLite:
		return "SQLite"
	}
	return string(engine)
}

// sortNames orders names case-insensitively, ties broken by the raw name.
func sortNames[T any](items []T, name func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := strings.ToLower(name(items[i])), strings.ToLower(name(items[j]))
		if a != b {
			return a < b
		}
		return name(items[i]) < name(items[j])
	})
}

func identity(s string) string {
	return s
}

// stringOf renders a scanned driver value as text.
func stringOf(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02 15:04:05.999999999-07:00")
	default:
		return fmt.Sprint(t)
	}
}

var sqlNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// numericLiteral renders v as an unquoted SQL number. It reports false for
// anything a SQL parser would not read back as the same number, such as
// NaN, infinities, hex floats or currency text.
func numericLiteral(v any) (string, bool) {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), true
	case float32:
		return finiteFloat(float64(t), 32)
	case float64:
		return finiteFloat(t, 64)
	case []byte, string:
		s := stringOf(t)
		if !sqlNumber.MatchString(s) {
			return "", false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", false
		}
		return s, true
	}
	return "", false
}

func isText(v any) bool {
	switch v.(type) {
	case []byte, string:
		return true
	}
	return false
}

func finiteFloat(f float64, bits int) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'g', -1, bits), true
}
