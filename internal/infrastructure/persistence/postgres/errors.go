package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezkam/taskstream/internal/domain"
)

// mapError translates driver failures into the domain failure classes the
// application layers act on: constraint violations become ErrConflict and
// connectivity problems become ErrUnavailable. Everything else passes
// through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "23": // integrity constraint violation
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "08": // connection exception
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		case "53": // insufficient resources
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		case "57": // operator intervention (shutdown, crash)
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

// isUniqueViolation reports whether the error is a unique-index conflict,
// optionally narrowed to one constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// checkRowsAffected validates that an UPDATE/DELETE affected exactly one
// row, translating a miss into the entity's not-found sentinel.
func checkRowsAffected(rowsAffected int64, notFound error, entityID string) error {
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", notFound, entityID)
	}
	return nil
}
