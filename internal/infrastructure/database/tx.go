package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

type Transactor struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTransactor(db *sql.DB, l *zap.Logger) *Transactor {
	return &Transactor{db: db, logger: l}
}

func (t *Transactor) DB() domain.Querier {
	return t.db
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, q domain.Querier) error) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			t.logger.Error("Panic during transaction, rolling back", zap.Any("panic", p))
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				t.logger.Error("Failed to roll back transaction", zap.Error(rbErr), zap.NamedError("cause", err))
			}
		} else {
			if err = tx.Commit(); err != nil {
				t.logger.Error("Failed to commit transaction", zap.Error(err))
				err = fmt.Errorf("failed to commit transaction: %w", err)
			}
		}
	}()

	err = fn(ctx, tx)
	return err
}
