package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks an invalid BackupSet or connection descriptor. It is
	// fatal and raised before any I/O happens.
	ErrConfig = errors.New("invalid configuration")

	// ErrConnection marks a database that could not be reached.
	ErrConnection = errors.New("database connection failed")

	// ErrStatement marks a replayed SQL statement rejected by the engine.
	ErrStatement = errors.New("statement failed")

	// ErrArchive marks a container that could not be opened, written or finalized.
	ErrArchive = errors.New("archive failure")

	// ErrFilesystem marks staging file write/delete failures.
	ErrFilesystem = errors.New("filesystem failure")

	// ErrNotFound is returned by restore when the archive cannot be located.
	ErrNotFound = errors.New("backup file not found")
)

// StatementError carries the engine error and the statement that caused it.
type StatementError struct {
	Statement string
	Line      int
	Err       error
}

func (e *StatementError) Error() string {
	stmt := e.Statement
	if len(stmt) > 200 {
		stmt = stmt[:200] + "..."
	}
	return fmt.Sprintf("statement ending at line %d failed: %v: %s", e.Line, e.Err, stmt)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

func (e *StatementError) Is(target error) bool {
	return target == ErrStatement
}
