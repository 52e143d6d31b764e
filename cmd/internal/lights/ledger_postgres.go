package lights

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger is a Ledger backed by PostgreSQL.
//
// Ownership model:
// - PostgresLedger does NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
// - Credit is a single INSERT .. ON CONFLICT DO UPDATE (storage-native increment).
// - Debit is a conditional UPDATE guarded by amount >= delta, so the balance row
//   never goes negative even under concurrent withdrawals.
// - The audit event is written in the same transaction as the balance change.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresLedger behavior.
type PostgresOption func(*PostgresLedger) error

// WithSchema sets the DB schema used by this ledger (default: "bochat").
func WithSchema(schema string) PostgresOption {
	return func(l *PostgresLedger) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("lights: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("lights: invalid schema identifier")
		}
		l.schema = schema
		return nil
	}
}

// NewPostgresLedger constructs a Postgres-backed Ledger.
func NewPostgresLedger(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLedger, error) {
	l := &PostgresLedger{
		pool:   pool,
		schema: "bochat",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.pool == nil {
		return nil, errors.New("lights: nil pool")
	}
	return l, nil
}

func (l *PostgresLedger) Credit(ctx context.Context, userID, chatID int64, delta int) (Balance, error) {
	if err := validateDelta("credit", userID, chatID, delta); err != nil {
		return Balance{}, err
	}

	balances := pgIdent(l.schema, "lights_balances")
	now := l.now()

	var out Balance
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		out = Balance{UserID: userID, ChatID: chatID}
		if err := tx.QueryRow(ctx,
			`INSERT INTO `+balances+` AS b (user_id, chat_id, amount, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, chat_id) DO UPDATE
			    SET amount = b.amount + EXCLUDED.amount,
			        updated_at = EXCLUDED.updated_at
			 RETURNING amount, updated_at`,
			userID, chatID, delta, now,
		).Scan(&out.Amount, &out.UpdatedAt); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
		return l.insertEvent(ctx, tx, out, OpReceived, delta)
	})
	return out, err
}

func (l *PostgresLedger) Debit(ctx context.Context, userID, chatID int64, delta int) (Balance, error) {
	if err := validateDelta("debit", userID, chatID, delta); err != nil {
		return Balance{}, err
	}

	balances := pgIdent(l.schema, "lights_balances")
	now := l.now()

	var out Balance
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		out = Balance{UserID: userID, ChatID: chatID}
		err := tx.QueryRow(ctx,
			`UPDATE `+balances+`
			    SET amount = amount - $3,
			        updated_at = $4
			  WHERE user_id = $1 AND chat_id = $2 AND amount >= $3
			RETURNING amount, updated_at`,
			userID, chatID, delta, now,
		).Scan(&out.Amount, &out.UpdatedAt)
		if err == nil {
			return l.insertEvent(ctx, tx, out, OpWithdrawn, delta)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("debit balance: %w", err)
		}

		// Either the row is missing (balance 0) or it holds less than delta.
		have, err := readAmount(ctx, tx, balances, userID, chatID)
		if err != nil {
			return err
		}
		out.Amount = have
		if delta == 0 {
			return nil
		}
		return insufficient("debit", have, delta)
	})
	return out, err
}

func (l *PostgresLedger) Reconcile(ctx context.Context, userID, chatID int64) (Balance, error) {
	if err := validateDelta("reconcile", userID, chatID, 0); err != nil {
		return Balance{}, err
	}

	balances := pgIdent(l.schema, "lights_balances")
	now := l.now()

	var out Balance
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		out = Balance{UserID: userID, ChatID: chatID}
		err := tx.QueryRow(ctx,
			`UPDATE `+balances+`
			    SET updated_at = $3
			  WHERE user_id = $1 AND chat_id = $2
			RETURNING amount, updated_at`,
			userID, chatID, now,
		).Scan(&out.Amount, &out.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reconcile balance: %w", err)
		}
		return l.insertEvent(ctx, tx, out, OpReconciled, 0)
	})
	return out, err
}

func (l *PostgresLedger) BalanceOf(ctx context.Context, userID, chatID int64) (int, error) {
	var amount int
	err := l.pool.QueryRow(ctx,
		`SELECT amount FROM `+pgIdent(l.schema, "lights_balances")+`
		  WHERE user_id = $1 AND chat_id = $2`,
		userID, chatID,
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func (l *PostgresLedger) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if l == nil || l.pool == nil {
		return errors.New("lights: nil ledger")
	}
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *PostgresLedger) insertEvent(ctx context.Context, tx pgx.Tx, b Balance, op string, amount int) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+pgIdent(l.schema, "lights_events")+` (
		     user_id, chat_id, operation, amount, total, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)`,
		b.UserID, b.ChatID, op, amount, b.Amount, b.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

func readAmount(ctx context.Context, tx pgx.Tx, table string, userID, chatID int64) (int, error) {
	var amount int
	err := tx.QueryRow(ctx,
		`SELECT amount FROM `+table+` WHERE user_id = $1 AND chat_id = $2`,
		userID, chatID,
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
