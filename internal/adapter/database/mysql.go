package database

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/semmidev/archivist/internal/domain"
)

var (
	mysqlNumeric = regexp.MustCompile(`(?i)^(unsigned )?(tinyint|smallint|mediumint|int|integer|bigint|decimal|numeric|float|double|real|year|bit)`)
	mysqlBinary  = regexp.MustCompile(`(?i)(blob|binary|geometry|point|polygon|linestring)`)
)

type MySQLDatabase struct {
	base
}

func NewMySQL(conn domain.Connection, opts ...Option) *MySQLDatabase {
	return &MySQLDatabase{base: newBase(conn, domain.EngineMySQL, opts...)}
}

func (m *MySQLDatabase) Dump(ctx context.Context, outputPath string) error {
	return m.dump(ctx, outputPath, "mysql", m.dsn(), m)
}

func (m *MySQLDatabase) Restore(ctx context.Context, inputPath string) error {
	return m.restore(ctx, inputPath, "mysql", m.dsn())
}

func (m *MySQLDatabase) Ping(ctx context.Context) error {
	return m.ping(ctx, "mysql", m.dsn())
}

func (m *MySQLDatabase) dsn() string {
	if m.conn.DSN != "" {
		return m.conn.DSN
	}
	host := m.conn.Host
	if host == "" {
		host = "localhost"
	}
	port := m.conn.Port
	if port == 0 {
		port = 3306
	}

	cfg := mysql.NewConfig()
	cfg.User = m.conn.Username
	cfg.Passwd = m.conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = m.conn.Database
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func (m *MySQLDatabase) quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var mysqlEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"'", "\\'",
	"\"", "\\\"",
	"\x1a", "\\Z",
)

func (m *MySQLDatabase) literal(v any, typeName string) string {
	switch {
	case v == nil:
		return "NULL"
	case mysqlNumeric.MatchString(typeName):
		if b, ok := v.([]byte); ok && strings.EqualFold(typeName, "BIT") {
			return "0x" + hex.EncodeToString(b)
		}
	}
	if n, ok := numericLiteral(v); ok && (!isText(v) || mysqlNumeric.MatchString(typeName)) {
		return n
	}
	if b, ok := v.([]byte); ok && mysqlBinary.MatchString(typeName) {
		if len(b) == 0 {
			return "''"
		}
		return "0x" + hex.EncodeToString(b)
	}
	return "'" + mysqlEscaper.Replace(stringOf(v)) + "'"
}

func (m *MySQLDatabase) serverVersion(ctx context.Context, conn *sqlx.Conn) (string, error) {
	var version string
	err := conn.GetContext(ctx, &version, "SELECT VERSION()")
	return version, err
}

func (m *MySQLDatabase) preamble() []string {
	return []string{
		"SET NAMES utf8mb4",
		"SET FOREIGN_KEY_CHECKS=0",
		"SET UNIQUE_CHECKS=0",
		"SET SQL_MODE='NO_AUTO_VALUE_ON_ZERO'",
	}
}

func (m *MySQLDatabase) postamble() []string {
	return []string{
		"SET UNIQUE_CHECKS=1",
		"SET FOREIGN_KEY_CHECKS=1",
	}
}

func (m *MySQLDatabase) writeObjects(ctx context.Context, conn *sqlx.Conn, w *dumpWriter) error {
	tables, err := m.names(ctx, conn, "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME")
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	var foreignKeys []string
	for _, table := range tables {
		ddl, err := m.showCreate(ctx, conn, "SHOW CREATE TABLE "+m.quoteIdent(table), 1)
		if err != nil {
			return fmt.Errorf("failed to read table %s: %w", table, err)
		}
		ddl, fks := splitForeignKeys(ddl)
		for _, fk := range fks {
			foreignKeys = append(foreignKeys, fmt.Sprintf("ALTER TABLE %s ADD %s", m.quoteIdent(table), fk))
		}

		w.comment("Table " + m.quoteIdent(table))
		w.statement("DROP TABLE IF EXISTS " + m.quoteIdent(table))
		w.definition(ddl)
		if err := writeRows(ctx, conn, w, m.quoteIdent(table)); err != nil {
			return err
		}
		w.blank()
	}

	for _, fk := range foreignKeys {
		w.definition(fk)
	}

	views, err := m.names(ctx, conn, "SELECT TABLE_NAME FROM information_schema.VIEWS WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME")
	if err != nil {
		return fmt.Errorf("failed to list views: %w", err)
	}
	for _, view := range views {
		ddl, err := m.showCreate(ctx, conn, "SHOW CREATE VIEW "+m.quoteIdent(view), 1)
		if err != nil {
			return fmt.Errorf("failed to read view %s: %w", view, err)
		}
		w.statement("DROP VIEW IF EXISTS " + m.quoteIdent(view))
		w.definition(ddl)
	}

	triggers, err := m.names(ctx, conn, "SELECT TRIGGER_NAME FROM information_schema.TRIGGERS WHERE TRIGGER_SCHEMA = DATABASE() ORDER BY TRIGGER_NAME")
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	for _, trigger := range triggers {
		ddl, err := m.showCreate(ctx, conn, "SHOW CREATE TRIGGER "+m.quoteIdent(trigger), 2)
		if err != nil {
			return fmt.Errorf("failed to read trigger %s: %w", trigger, err)
		}
		w.statement("DROP TRIGGER IF EXISTS " + m.quoteIdent(trigger))
		w.definition(ddl)
	}

	for _, kind := range []string{"FUNCTION", "PROCEDURE"} {
		routines, err := m.names(ctx, conn, "SELECT ROUTINE_NAME FROM information_schema.ROUTINES WHERE ROUTINE_SCHEMA = DATABASE() AND ROUTINE_TYPE = ? ORDER BY ROUTINE_NAME", kind)
		if err != nil {
			return fmt.Errorf("failed to list %s routines: %w", strings.ToLower(kind), err)
		}
		for _, routine := range routines {
			ddl, err := m.showCreate(ctx, conn, "SHOW CREATE "+kind+" "+m.quoteIdent(routine), 2)
			if err != nil {
				return fmt.Errorf("failed to read %s %s: %w", strings.ToLower(kind), routine, err)
			}
			w.statement("DROP " + kind + " IF EXISTS " + m.quoteIdent(routine))
			w.definition(ddl)
		}
	}

	return w.err
}

func (m *MySQLDatabase) names(ctx context.Context, conn *sqlx.Conn, query string, args ...any) ([]string, error) {
	var names []string
	if err := conn.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, err
	}
	sortNames(names, identity)
	return names, nil
}

// showCreate runs a SHOW CREATE statement and returns the given column.
func (m *MySQLDatabase) showCreate(ctx context.Context, conn *sqlx.Conn, query string, column int) (string, error) {
	row, err := conn.QueryRowxContext(ctx, query).SliceScan()
	if err != nil {
		return "", err
	}
	if column >= len(row) || row[column] == nil {
		return "", fmt.Errorf("no definition returned by %q, check privileges", query)
	}
	return stringOf(row[column]), nil
}

// splitForeignKeys removes FOREIGN KEY clauses from a CREATE TABLE statement
// and returns them separately.
func splitForeignKeys(ddl string) (string, []string) {
	lines := strings.Split(ddl, "\n")
	kept := make([]string, 0, len(lines))
	var fks []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "CONSTRAINT") && strings.Contains(trimmed, "FOREIGN KEY") {
			fks = append(fks, strings.TrimSuffix(trimmed, ","))
			continue
		}
		kept = append(kept, line)
	}
	if len(fks) == 0 {
		return ddl, nil
	}

	// the column list may now end in a dangling comma
	for i := len(kept) - 1; i > 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(kept[i]), ")") {
			kept[i-1] = strings.TrimSuffix(strings.TrimRight(kept[i-1], " "), ",")
			break
		}
	}
	return strings.Join(kept, "\n"), fks
}
