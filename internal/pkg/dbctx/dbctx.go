// Package dbctx carries a context and an optional transaction into repository calls.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a call context with an optional GORM transaction. Repositories
// write through Tx when set so a caller can group ledger writes.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the transaction when present, else fallback, bound to Ctx.
// A nil Ctx binds context.Background.
func (c Context) DB(fallback *gorm.DB) *gorm.DB {
	db := c.Tx
	if db == nil {
		db = fallback
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return db.WithContext(ctx)
}
