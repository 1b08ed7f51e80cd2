// Package database dumps relational databases to portable SQL scripts and
// replays those scripts back, without shelling out to vendor tools.
package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/semmidev/archivist/internal/domain"
)

const (
	sqliteBatchSize = 64 * 1024
	serverBatchSize = 1024 * 1024
)

// Opener opens a database handle. Tests swap it for one backed by sqlmock.
type Opener func(driverName, dsn string) (*sqlx.DB, error)

type Option func(*base)

// WithOpener replaces sqlx.Open.
func WithOpener(open Opener) Option {
	return func(b *base) {
		b.open = open
	}
}

// WithBatchSize overrides the engine's INSERT batch ceiling in bytes.
func WithBatchSize(n int) Option {
	return func(b *base) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithClock replaces the clock used for the dump header.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		b.now = now
	}
}

type constructor func(b base) domain.Database

var registry = map[domain.Engine]constructor{
	domain.EngineMySQL: func(b base) domain.Database {
		return &MySQLDatabase{base: b}
	},
	domain.EnginePostgreSQL: func(b base) domain.Database {
		return &PostgreSQLDatabase{base: b}
	},
	domain.EngineSQLite: func(b base) domain.Database {
		return &SQLiteDatabase{base: b}
	},
}

var defaultBatchSizes = map[domain.Engine]int{
	domain.EngineMySQL:      serverBatchSize,
	domain.EnginePostgreSQL: serverBatchSize,
	domain.EngineSQLite:     sqliteBatchSize,
}

// New returns the dump driver registered for conn.Engine.
func New(conn domain.Connection, opts ...Option) (domain.Database, error) {
	engine := domain.Engine(strings.ToLower(string(conn.Engine)))
	build, ok := registry[engine]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported database engine %q for %s", domain.ErrConfig, conn.Engine, conn.ID)
	}
	return build(newBase(conn, engine, opts...)), nil
}

func newBase(conn domain.Connection, engine domain.Engine, opts ...Option) base {
	conn.Engine = engine
	b := base{
		conn:      conn,
		open:      sqlx.Open,
		batchSize: defaultBatchSizes[engine],
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// base holds what every engine needs to open its pinned connection.
type base struct {
	conn      domain.Connection
	open      Opener
	batchSize int
	now       func() time.Time
}

func (b *base) GetName() string {
	return b.conn.ID
}

func (b *base) GetType() domain.Engine {
	return b.conn.Engine
}

// connect opens a fresh handle and pins a single connection on it, so session
// settings and transactions issued by a script stay on one server session.
func (b *base) connect(ctx context.Context, driverName, dsn string) (*sqlx.DB, *sqlx.Conn, error) {
	db, err := b.open(driverName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to open %s: %w", domain.ErrConnection, b.conn.ID, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: failed to ping %s: %w", domain.ErrConnection, b.conn.ID, err)
	}
	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: failed to acquire connection to %s: %w", domain.ErrConnection, b.conn.ID, err)
	}
	return db, conn, nil
}

func disconnect(db *sqlx.DB, conn *sqlx.Conn) {
	conn.Close()
	db.Close()
}

func (b *base) ping(ctx context.Context, driverName, dsn string) error {
	db, conn, err := b.connect(ctx, driverName, dsn)
	if err != nil {
		return err
	}
	disconnect(db, conn)
	return nil
}

// source is what an engine contributes to a dump.
type source interface {
	dialect
	serverVersion(ctx context.Context, conn *sqlx.Conn) (string, error)
	preamble() []string
	postamble() []string
	writeObjects(ctx context.Context, conn *sqlx.Conn, w *dumpWriter) error
}

func (b *base) dump(ctx context.Context, outputPath, driverName, dsn string, src source) (err error) {
	db, conn, err := b.connect(ctx, driverName, dsn)
	if err != nil {
		return err
	}
	defer disconnect(db, conn)

	version, err := src.serverVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to read server version: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create dump file: %w", domain.ErrFilesystem, err)
	}
	w := newDumpWriter(f, src, b.batchSize)
	defer func() {
		if cerr := w.close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: failed to write dump file: %w", domain.ErrFilesystem, cerr)
		}
		if err == nil {
			if _, serr := os.Stat(outputPath); serr != nil {
				err = fmt.Errorf("%w: dump file %s missing after dump", domain.ErrFilesystem, outputPath)
			}
		}
	}()

	w.header(b.conn.Engine, version, b.databaseName(), b.now())
	for _, stmt := range src.preamble() {
		w.statement(stmt)
	}
	w.blank()

	if err := src.writeObjects(ctx, conn, w); err != nil {
		return err
	}

	for _, stmt := range src.postamble() {
		w.statement(stmt)
	}
	return w.err
}

func (b *base) restore(ctx context.Context, inputPath, driverName, dsn string) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open dump file: %w", domain.ErrFilesystem, err)
	}
	defer f.Close()

	db, conn, err := b.connect(ctx, driverName, dsn)
	if err != nil {
		return err
	}
	defer disconnect(db, conn)

	return replay(ctx, conn, f)
}

func (b *base) databaseName() string {
	if b.conn.Database != "" {
		return b.conn.Database
	}
	return b.conn.ID
}
