package database

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/semmidev/archivist/internal/domain"
)

const defaultDelimiter = ";"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// replay executes a dump script statement by statement and stops at the
// first statement the server rejects.
func replay(ctx context.Context, conn execer, r io.Reader) error {
	reader := bufio.NewReader(r)
	delimiter := defaultDelimiter

	var (
		buf     strings.Builder
		line    int
		pending bool
	)

	exec := func() error {
		stmt := strings.TrimSpace(buf.String())
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, delimiter))
		buf.Reset()
		pending = false
		if stmt == "" {
			return nil
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return &domain.StatementError{Statement: stmt, Line: line, Err: err}
		}
		return nil
	}

	for {
		text, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("%w: failed to read dump file: %w", domain.ErrFilesystem, readErr)
		}

		if text != "" {
			line++
			trimmed := strings.TrimSpace(text)

			switch {
			case !pending && (trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*")):
			case !pending && isDelimiterDirective(trimmed):
				delimiter = strings.TrimSpace(trimmed[len("DELIMITER"):])
				if delimiter == "" {
					delimiter = defaultDelimiter
				}
			default:
				buf.WriteString(text)
				if !strings.HasSuffix(text, "\n") {
					buf.WriteString("\n")
				}
				pending = true
				if strings.HasSuffix(trimmed, delimiter) {
					if err := exec(); err != nil {
						return err
					}
				}
			}
		}

		if readErr != nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if pending {
		return exec()
	}
	return nil
}

func isDelimiterDirective(line string) bool {
	return len(line) > len("DELIMITER") &&
		strings.EqualFold(line[:len("DELIMITER")], "DELIMITER") &&
		(line[len("DELIMITER")] == ' ' || line[len("DELIMITER")] == '\t')
}
