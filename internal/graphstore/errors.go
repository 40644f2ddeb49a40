package graphstore

import (
	"context"
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/adgraph/internal/domain/migerr"
)

// ErrUnavailable tags a transient store failure raised by an in-process implementation.
var ErrUnavailable = errors.New("graph store unavailable")

// MapError maps store and driver failures onto migration error codes.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var coded *migerr.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, ErrUnavailable):
		return migerr.StoreUnavailable(op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return migerr.StoreUnavailable(op, err)
	case errors.Is(err, context.Canceled):
		return migerr.Wrap(migerr.CodeInternal, op, err)
	case neo4j.IsRetryable(err), neo4j.IsConnectivityError(err):
		return migerr.StoreUnavailable(op, err)
	}

	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		code := strings.TrimSpace(nerr.Code)
		switch {
		case strings.HasPrefix(code, "Neo.TransientError."):
			return migerr.StoreUnavailable(op, err)
		case strings.HasPrefix(code, "Neo.ClientError.Schema."):
			return migerr.Wrap(migerr.CodeSchemaConflict, op, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "temporar"):
		return migerr.StoreUnavailable(op, err)
	default:
		return migerr.Wrap(migerr.CodeInternal, op, err)
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return migerr.IsCode(MapError("graphstore", err), migerr.CodeStoreUnavailable)
}
