package postgres

import (
	"fmt"

	"github.com/Strob0t/ForgeBot/internal/domain"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// pgTextArray converts a string slice to a pgx-compatible text array.
// nil slices become empty arrays to avoid SQL NULL.
func pgTextArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// notFound wraps domain.ErrNotFound with the given message.
func notFound(format string, args ...any) error {
	return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", domain.ErrNotFound)
}
