package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// IDs come from a BIGSERIAL column, so they are unique and increasing per table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "bochat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bochat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Add(ctx context.Context, m v1.Message) (v1.Message, error) {
	if s == nil || s.pool == nil {
		return v1.Message{}, errors.New("realtime: nil store")
	}
	if err := m.Validate(); err != nil {
		return v1.Message{}, ValidationError{Field: "message", Reason: err.Error()}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.SentAt.IsZero() {
		m.SentAt = m.CreatedAt
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "messages")+` (
		     chat_id, user_id, recipient_id, reply_id, text, created_at, sent_at, is_edited, is_read, is_hidden
		   ) VALUES ($1, $2, NULLIF($3::bigint, 0), NULLIF($4::bigint, 0), $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		m.ChatID, m.UserID, m.RecipientID, m.ReplyID, m.Text, m.CreatedAt, m.SentAt, m.IsEdited, m.IsRead, m.IsHidden,
	).Scan(&m.ID)
	if err != nil {
		return v1.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (v1.Message, error) {
	if s == nil || s.pool == nil {
		return v1.Message{}, errors.New("realtime: nil store")
	}

	var m v1.Message
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, user_id, COALESCE(recipient_id, 0), COALESCE(reply_id, 0),
		        text, created_at, sent_at, is_edited, is_read, is_hidden
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ChatID, &m.UserID, &m.RecipientID, &m.ReplyID,
		&m.Text, &m.CreatedAt, &m.SentAt, &m.IsEdited, &m.IsRead, &m.IsHidden)
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return v1.Message{}, err
	}
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
