package database

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/semmidev/archivist/internal/domain"
)

// postgresFloatWords spells the non-finite floats the way PostgreSQL reads them.
var postgresFloatWords = map[string]string{"NaN": "NaN", "+Inf": "Infinity", "-Inf": "-Infinity"}

var postgresNumeric = regexp.MustCompile(`(?i)^(smallint|integer|bigint|int2|int4|int8|decimal|numeric|real|double precision|float4|float8|money|serial|bigserial|smallserial|oid)`)

type PostgreSQLDatabase struct {
	base
}

func NewPostgreSQL(conn domain.Connection, opts ...Option) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{base: newBase(conn, domain.EnginePostgreSQL, opts...)}
}

func (p *PostgreSQLDatabase) Dump(ctx context.Context, outputPath string) error {
	return p.dump(ctx, outputPath, "postgres", p.dsn(), p)
}

func (p *PostgreSQLDatabase) Restore(ctx context.Context, inputPath string) error {
	return p.restore(ctx, inputPath, "postgres", p.dsn())
}

func (p *PostgreSQLDatabase) Ping(ctx context.Context) error {
	return p.ping(ctx, "postgres", p.dsn())
}

func (p *PostgreSQLDatabase) dsn() string {
	if p.conn.DSN != "" {
		return p.conn.DSN
	}
	host := p.conn.Host
	if host == "" {
		host = "localhost"
	}
	port := p.conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := p.conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dsnValue(host), port, dsnValue(p.conn.Username), dsnValue(p.conn.Password), dsnValue(p.conn.Database), sslMode)
}

// dsnValue quotes a key/value connection string value when needed.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

func (p *PostgreSQLDatabase) schema() string {
	if p.conn.Schema != "" {
		return p.conn.Schema
	}
	return "public"
}

func (p *PostgreSQLDatabase) quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func (p *PostgreSQLDatabase) qualified(name string) string {
	return p.quoteIdent(p.schema()) + "." + p.quoteIdent(name)
}

var postgresEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"'", "''",
	"\n", "\\n",
	"\r", "\\r",
	"\t", "\\t",
)

func (p *PostgreSQLDatabase) quoteString(s string) string {
	return "E'" + postgresEscaper.Replace(s) + "'"
}

func (p *PostgreSQLDatabase) literal(v any, typeName string) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return p.quoteString(formatPostgresTime(t, typeName))
	case float32, float64:
		if n, ok := numericLiteral(t); ok {
			return n
		}
		return p.quoteString(postgresFloatWords[fmt.Sprint(t)])
	case []byte, string:
		if postgresNumeric.MatchString(typeName) {
			if n, ok := numericLiteral(t); ok {
				return n
			}
		}
	default:
		if n, ok := numericLiteral(t); ok {
			return n
		}
	}
	if b, ok := v.([]byte); ok && strings.EqualFold(typeName, "BYTEA") {
		return p.quoteString(`\x`+hex.EncodeToString(b)) + "::bytea"
	}
	return p.quoteString(stringOf(v))
}

func formatPostgresTime(t time.Time, typeName string) string {
	switch strings.ToUpper(typeName) {
	case "DATE":
		return t.Format("2006-01-02")
	case "TIME":
		return t.Format("15:04:05.999999999")
	case "TIMETZ":
		return t.Format("15:04:05.999999999-07:00")
	case "TIMESTAMP":
		return t.Format("2006-01-02 15:04:05.999999999")
	}
	return t.Format("2006-01-02 15:04:05.999999999-07:00")
}

func (p *PostgreSQLDatabase) serverVersion(ctx context.Context, conn *sqlx.Conn) (string, error) {
	var version string
	err := conn.GetContext(ctx, &version, "SHOW server_version")
	return version, err
}

func (p *PostgreSQLDatabase) preamble() []string {
	return []string{
		"SET client_encoding = 'UTF8'",
		"SET standard_conforming_strings = on",
		"SET check_function_bodies = false",
	}
}

func (p *PostgreSQLDatabase) postamble() []string {
	return nil
}

type pgSequence struct {
	Name      string `db:"name"`
	Start     int64  `db:"start_value"`
	Increment int64  `db:"increment_by"`
	Min       int64  `db:"min_value"`
	Max       int64  `db:"max_value"`
	Cycle     bool   `db:"cycle"`
	Last      *int64 `db:"last_value"`
	Identity  bool   `db:"is_identity"`
}

// pgColumn mirrors pg_attribute. Identity is 'a' (ALWAYS), 'd' (BY DEFAULT)
// or empty. Generated is 's' for stored generated columns, whose expression
// is then held in Default.
type pgColumn struct {
	Name      string `db:"name"`
	Type      string `db:"type"`
	NotNull   bool   `db:"not_null"`
	Default   string `db:"default_value"`
	Identity  string `db:"identity"`
	Generated string `db:"generated"`
}

type pgConstraint struct {
	Name       string `db:"name"`
	Table      string `db:"table_name"`
	Definition string `db:"definition"`
	Type       string `db:"type"`
}

type pgObject struct {
	Name       string `db:"name"`
	Definition string `db:"definition"`
}

type pgRoutine struct {
	Name       string `db:"name"`
	Kind       string `db:"kind"`
	Definition string `db:"definition"`
	IsTrigger  bool   `db:"is_trigger"`
}

const (
	pgTablesQuery = `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 ORDER BY tablename`

	pgSequencesQuery = `SELECT s.sequencename AS name, s.start_value, s.increment_by, s.min_value, s.max_value, s.cycle, s.last_value,
			EXISTS (SELECT 1 FROM pg_catalog.pg_depend d
				WHERE d.classid = 'pg_catalog.pg_class'::regclass
					AND d.objid = (pg_catalog.quote_ident(s.schemaname) || '.' || pg_catalog.quote_ident(s.sequencename))::regclass
					AND d.deptype = 'i') AS is_identity
		FROM pg_catalog.pg_sequences s WHERE s.schemaname = $1 ORDER BY s.sequencename`

	pgColumnsQuery = `SELECT a.attname AS name,
			pg_catalog.format_type(a.atttypid, a.atttypmod) AS type,
			a.attnotnull AS not_null,
			COALESCE(pg_catalog.pg_get_expr(d.adbin, d.adrelid), '') AS default_value,
			a.attidentity::text AS identity, a.attgenerated::text AS generated
		FROM pg_catalog.pg_attribute a
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`

	pgConstraintsQuery = `SELECT con.conname AS name, cl.relname AS table_name,
			pg_catalog.pg_get_constraintdef(con.oid, true) AS definition, con.contype::text AS type
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class cl ON cl.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = cl.relnamespace
		WHERE n.nspname = $1 AND con.contype IN ('p', 'u', 'c', 'f')
		ORDER BY con.conname`

	pgViewsQuery = `SELECT viewname AS name, definition FROM pg_catalog.pg_views WHERE schemaname = $1 ORDER BY viewname`

	pgIndexesQuery = `SELECT i.indexname AS name, i.indexdef AS definition
		FROM pg_catalog.pg_indexes i
		WHERE i.schemaname = $1 AND NOT EXISTS (
			SELECT 1 FROM pg_catalog.pg_constraint con
			JOIN pg_catalog.pg_namespace n ON n.oid = con.connamespace
			WHERE con.conname = i.indexname AND n.nspname = i.schemaname)
		ORDER BY i.indexname`

	pgRoutinesQuery = `SELECT p.proname AS name, p.prokind::text AS kind,
			pg_catalog.pg_get_functiondef(p.oid) AS definition,
			p.prorettype = 'pg_catalog.trigger'::pg_catalog.regtype AS is_trigger
		FROM pg_catalog.pg_proc p
		JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = $1 AND p.prokind IN ('f', 'p')
			AND NOT EXISTS (SELECT 1 FROM pg_catalog.pg_depend d WHERE d.objid = p.oid AND d.deptype = 'e')
		ORDER BY p.proname`

	pgTriggersQuery = `SELECT t.tgname AS name, pg_catalog.pg_get_triggerdef(t.oid, true) AS definition
		FROM pg_catalog.pg_trigger t
		JOIN pg_catalog.pg_class c ON c.oid = t.tgrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND NOT t.tgisinternal
		ORDER BY t.tgname`
)

func (p *PostgreSQLDatabase) writeObjects(ctx context.Context, conn *sqlx.Conn, w *dumpWriter) error {
	schema := p.schema()

	var tables []string
	if err := conn.SelectContext(ctx, &tables, pgTablesQuery, schema); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	sortNames(tables, identity)

	var sequences []pgSequence
	if err := conn.SelectContext(ctx, &sequences, pgSequencesQuery, schema); err != nil {
		return fmt.Errorf("failed to list sequences: %w", err)
	}
	sortNames(sequences, func(s pgSequence) string { return s.Name })

	for _, table := range tables {
		w.statement("DROP TABLE IF EXISTS " + p.qualified(table) + " CASCADE")
	}
	for _, seq := range sequences {
		if seq.Identity {
			continue
		}
		w.statement("DROP SEQUENCE IF EXISTS " + p.qualified(seq.Name) + " CASCADE")
		w.definition(p.createSequence(seq))
	}
	w.blank()

	for _, table := range tables {
		var columns []pgColumn
		if err := conn.SelectContext(ctx, &columns, pgColumnsQuery, p.qualified(table)); err != nil {
			return fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		w.comment("Table " + p.qualified(table))
		w.definition(p.createTable(table, columns))
		if selected, modifier := p.insertColumns(columns); selected != "" {
			if err := writeColumns(ctx, conn, w, p.qualified(table), selected, modifier); err != nil {
				return err
			}
		}
		w.blank()
	}

	for _, seq := range sequences {
		if seq.Last != nil {
			w.statement(fmt.Sprintf("SELECT pg_catalog.setval(%s, %d, true)", p.quoteString(p.qualified(seq.Name)), *seq.Last))
		} else {
			w.statement(fmt.Sprintf("SELECT pg_catalog.setval(%s, %d, false)", p.quoteString(p.qualified(seq.Name)), seq.Start))
		}
	}
	if len(sequences) > 0 {
		w.blank()
	}

	var constraints []pgConstraint
	if err := conn.SelectContext(ctx, &constraints, pgConstraintsQuery, schema); err != nil {
		return fmt.Errorf("failed to list constraints: %w", err)
	}
	sortNames(constraints, func(c pgConstraint) string { return c.Name })
	for _, foreign := range []bool{false, true} {
		for _, c := range constraints {
			if (c.Type == "f") != foreign {
				continue
			}
			w.definition(fmt.Sprintf("ALTER TABLE ONLY %s ADD CONSTRAINT %s %s", p.qualified(c.Table), p.quoteIdent(c.Name), c.Definition))
		}
	}

	var views []pgObject
	if err := conn.SelectContext(ctx, &views, pgViewsQuery, schema); err != nil {
		return fmt.Errorf("failed to list views: %w", err)
	}
	sortNames(views, func(o pgObject) string { return o.Name })
	for _, v := range views {
		w.definition(fmt.Sprintf("CREATE OR REPLACE VIEW %s AS\n%s", p.qualified(v.Name), strings.TrimSpace(v.Definition)))
	}

	var indexes []pgObject
	if err := conn.SelectContext(ctx, &indexes, pgIndexesQuery, schema); err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	sortNames(indexes, func(o pgObject) string { return o.Name })
	for _, idx := range indexes {
		w.definition(idx.Definition)
	}

	var routines []pgRoutine
	if err := conn.SelectContext(ctx, &routines, pgRoutinesQuery, schema); err != nil {
		return fmt.Errorf("failed to list routines: %w", err)
	}
	sortNames(routines, func(r pgRoutine) string { return r.Name })

	var triggers []pgObject
	if err := conn.SelectContext(ctx, &triggers, pgTriggersQuery, schema); err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	sortNames(triggers, func(o pgObject) string { return o.Name })

	// trigger functions must exist before the triggers that call them
	for _, r := range routines {
		if r.IsTrigger {
			w.definition(r.Definition)
		}
	}
	for _, t := range triggers {
		w.definition(t.Definition)
	}

	for _, kind := range []string{"f", "p"} {
		for _, r := range routines {
			if r.Kind == kind && !r.IsTrigger {
				w.definition(r.Definition)
			}
		}
	}

	return w.err
}

func (p *PostgreSQLDatabase) createSequence(seq pgSequence) string {
	cycle := "NO CYCLE"
	if seq.Cycle {
		cycle = "CYCLE"
	}
	return fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s START WITH %d INCREMENT BY %d MINVALUE %d MAXVALUE %d %s",
		p.qualified(seq.Name), seq.Start, seq.Increment, seq.Min, seq.Max, cycle)
}

func (p *PostgreSQLDatabase) createTable(table string, columns []pgColumn) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		def := "    " + p.quoteIdent(c.Name) + " " + c.Type
		switch {
		case c.Generated == "s":
			def += " GENERATED ALWAYS AS (" + c.Default + ") STORED"
		case c.Identity == "a":
			def += " GENERATED ALWAYS AS IDENTITY"
		case c.Identity == "d":
			def += " GENERATED BY DEFAULT AS IDENTITY"
		case c.Default != "":
			def += " DEFAULT " + c.Default
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", p.qualified(table), strings.Join(defs, ",\n"))
}

// insertColumns picks the columns a row INSERT may write. Generated columns
// are left out and GENERATED ALWAYS identities need OVERRIDING SYSTEM VALUE.
func (p *PostgreSQLDatabase) insertColumns(columns []pgColumn) (string, string) {
	var names []string
	generated := false
	modifier := ""
	for _, c := range columns {
		if c.Generated == "s" {
			generated = true
			continue
		}
		if c.Identity == "a" {
			modifier = " OVERRIDING SYSTEM VALUE"
		}
		names = append(names, p.quoteIdent(c.Name))
	}
	if !generated {
		return "*", modifier
	}
	return strings.Join(names, ", "), modifier
}
