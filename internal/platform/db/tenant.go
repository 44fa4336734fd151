package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	// OrgIDKey carries the tenant org id for the active transaction.
	OrgIDKey contextKey = "org_id"
	// DBTxKey carries the active pgx transaction.
	DBTxKey contextKey = "db_tx"
	// DBConnKey carries an acquired pooled connection.
	DBConnKey contextKey = "db_conn"
)

// Gateway owns pooled connections, transaction demarcation, and per-transaction
// tenant context. Row-level-security policies read the tenant identifiers from
// transaction-local settings, so every statement inside WithTenantTx is scoped
// to one organization and the setting dies with the transaction, so a pooled
// connection cannot leak one tenant's context into the next request.
type Gateway struct {
	pool *pgxpool.Pool
}

func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// Pool exposes the underlying pool for administrative lookups that must run
// outside any tenant context (provider-id resolution, invitation search by
// email before the org is known).
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

// WithConn acquires a pooled connection, runs fn with it stashed in the
// context, and always releases it.
func (g *Gateway) WithConn(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(context.WithValue(ctx, DBConnKey, conn))
}

// WithTx runs fn inside a transaction on a dedicated connection. Commit on
// success, rollback on error. Rollback is only ever issued for a transaction
// that actually began.
func (g *Gateway) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.WithConn(ctx, func(ctx context.Context) error {
		conn := ConnFromContext(ctx)
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// WithTenantTx is the only sanctioned entry point for queries against
// tenant-scoped tables. It wraps WithTx and sets the org id (and acting user
// id when known) as transaction-local settings via set_config, always
// parameterized, never interpolated, since org and user identifiers travel
// through attacker-observable flows such as invitation emails.
func (g *Gateway) WithTenantTx(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, fn func(ctx context.Context) error) error {
	if orgID == uuid.Nil {
		return fmt.Errorf("tenant transaction requires an org id")
	}
	return g.WithTx(ctx, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if _, err := tx.Exec(ctx, `SELECT set_config('app.org_id', $1, true)`, orgID.String()); err != nil {
			return fmt.Errorf("set tenant context: %w", err)
		}
		if userID != nil {
			if _, err := tx.Exec(ctx, `SELECT set_config('app.user_id', $1, true)`, userID.String()); err != nil {
				return fmt.Errorf("set user context: %w", err)
			}
		}
		return fn(context.WithValue(ctx, OrgIDKey, orgID))
	})
}

// TxFromContext retrieves the active transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ConnFromContext retrieves the acquired pooled connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// OrgFromContext retrieves the tenant org id from context, or uuid.Nil when
// no tenant transaction is active.
func OrgFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(OrgIDKey).(uuid.UUID)
	return id
}
