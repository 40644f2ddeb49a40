package source

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yungbote/adgraph/internal/domain/migerr"
)

// classify maps source read failures onto migerr codes. Only store-availability problems are
// coded; anything else is returned as-is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "40001", "40P01", "55P03":
			return migerr.StoreUnavailable(op, err) // serialization/deadlock/lock_not_available
		case "57P01", "57P03", "08000", "08003", "08006":
			return migerr.StoreUnavailable(op, err) // shutdown/connection
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return migerr.StoreUnavailable(op, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "broken pipe") {
		return migerr.StoreUnavailable(op, err)
	}
	return err
}
