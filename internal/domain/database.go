package domain

import "context"

// Engine identifies a database dump driver.
type Engine string

const (
	EngineMySQL      Engine = "mysql"
	EnginePostgreSQL Engine = "postgresql"
	EngineSQLite     Engine = "sqlite"
)

// Connection is the host-supplied descriptor of one database. It is consumed
// read-only and never persisted.
type Connection struct {
	ID       string
	Engine   Engine
	Host     string
	Port     int
	Username string
	Password string
	Database string
	// DSN overrides the fields above; for SQLite it is the database file.
	DSN     string
	SSLMode string
	Schema  string
}

// Database converts one database to and from a portable SQL script. Each
// call opens and closes its own connection.
type Database interface {
	Dump(ctx context.Context, outputPath string) error
	Restore(ctx context.Context, inputPath string) error
	GetName() string
	GetType() Engine
	Ping(ctx context.Context) error
}
