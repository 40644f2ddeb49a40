package source

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

// Sequence is a lazy, restartable read. Every Open issues a fresh query; rows are scanned one at a
// time so the table is never materialized.
type Sequence[T any] struct {
	name  string
	db    *gorm.DB
	build func(ctx context.Context) *gorm.DB
}

func (s Sequence[T]) Name() string { return s.name }

func (s Sequence[T]) Open(ctx context.Context) (*Cursor[T], error) {
	q := s.build(ctx)
	rows, err := q.Rows()
	if err != nil {
		return nil, classify("source."+s.name, fmt.Errorf("source %s: query: %w", s.name, err))
	}
	return &Cursor[T]{name: s.name, db: s.db, rows: rows}, nil
}

// Each drains the sequence, stopping at the first error returned by fn.
func (s Sequence[T]) Each(ctx context.Context, fn func(rec T) error) error {
	cur, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer cur.Close()
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(cur.Record()); err != nil {
			return err
		}
	}
	return cur.Err()
}

// Collect reads the whole sequence into memory. Only for small phases and tests.
func (s Sequence[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	err := s.Each(ctx, func(rec T) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

type Cursor[T any] struct {
	name string
	// db scans rows; it is the session root, not the query chain.
	db   *gorm.DB
	rows *sql.Rows
	cur  T
	err  error
}

func (c *Cursor[T]) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var rec T
	if err := c.db.ScanRows(c.rows, &rec); err != nil {
		c.err = classify("source."+c.name, fmt.Errorf("source %s: scan: %w", c.name, err))
		return false
	}
	c.cur = rec
	return true
}

func (c *Cursor[T]) Record() T { return c.cur }

func (c *Cursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return classify("source."+c.name, fmt.Errorf("source %s: rows: %w", c.name, err))
	}
	return nil
}

func (c *Cursor[T]) Close() error { return c.rows.Close() }
