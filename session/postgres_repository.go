package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goSession/permission"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS gosession;

CREATE TABLE IF NOT EXISTS gosession.sessions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	token_hash   BYTEA NOT NULL,
	role         TEXT NOT NULL,
	permissions  TEXT[] NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	ip           TEXT NOT NULL,
	user_agent   TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	last_active  TIMESTAMPTZ NOT NULL,
	revision     BIGINT NOT NULL,
	CHECK (expires_at > created_at)
);

CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON gosession.sessions (expires_at, id);
CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON gosession.sessions (user_id);
`

const sessionColumns = `
	id, user_id, token_hash, role, permissions,
	created_at, expires_at, ip, user_agent, device_id,
	last_active, revision
`

// PostgresRepository implements [Repository] on PostgreSQL
// (gosession.sessions).
type PostgresRepository struct {
	pool  *pgxpool.Pool
	batch int
}

// NewPostgresRepository creates a Postgres-backed session repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, batch: defaultRedisScanBatch}
}

// EnsureSchema creates the sessions table and its indexes if missing.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return nil
}

// Get loads a session row by ID.
func (p *PostgresRepository) Get(ctx context.Context, id string) (*Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM gosession.sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return sess, err
}

// Put upserts a session row.
func (p *PostgresRepository) Put(ctx context.Context, sess *Session) error {
	permissions := sess.Permissions.Names()
	if permissions == nil {
		permissions = []string{}
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO gosession.sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			token_hash = EXCLUDED.token_hash,
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			ip = EXCLUDED.ip,
			user_agent = EXCLUDED.user_agent,
			device_id = EXCLUDED.device_id,
			last_active = EXCLUDED.last_active,
			revision = EXCLUDED.revision
	`,
		sess.ID,
		sess.UserID,
		sess.TokenHash[:],
		sess.Role,
		permissions,
		sess.CreatedAt.UTC(),
		sess.ExpiresAt.UTC(),
		sess.Metadata.IP,
		sess.Metadata.UserAgent,
		sess.Metadata.DeviceID,
		sess.Metadata.LastActive.UTC(),
		int64(sess.Revision),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return nil
}

// Delete removes a session row (idempotent).
func (p *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM gosession.sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return nil
}

// Touch updates last_active when revision is newer than the stored one.
func (p *PostgresRepository) Touch(ctx context.Context, id string, lastActive time.Time, revision uint64) error {
	var updated bool
	err := p.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id FROM gosession.sessions WHERE id = $1
		), touched AS (
			UPDATE gosession.sessions
			SET last_active = $2, revision = $3
			WHERE id = $1 AND revision < $3
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target)
	`, id, lastActive.UTC(), int64(revision)).Scan(&updated)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
	if !updated {
		return ErrNotFound
	}
	return nil
}

// FindExpired walks expired rows in (expires_at, id) order using keyset
// pagination, so rows deleted by the consumer never shift the window.
func (p *PostgresRepository) FindExpired(ctx context.Context, before time.Time) iter.Seq2[*Session, error] {
	return func(yield func(*Session, error) bool) {
		var (
			afterAt time.Time
			afterID string
			first   = true
		)

		for {
			rows, err := p.pool.Query(ctx, `
				SELECT `+sessionColumns+`
				FROM gosession.sessions
				WHERE expires_at < $1
				  AND ($2 OR (expires_at, id) > ($3, $4))
				ORDER BY expires_at, id
				LIMIT $5
			`, before.UTC(), first, afterAt, afterID, p.batch)
			if err != nil {
				yield(nil, fmt.Errorf("%w: %v", ErrRepository, err))
				return
			}

			page, err := collectExpired(rows)
			if err != nil {
				yield(nil, fmt.Errorf("%w: %v", ErrRepository, err))
				return
			}

			for _, item := range page {
				if !yield(item.sess, item.err) {
					return
				}
			}
			if len(page) < p.batch {
				return
			}

			last := page[len(page)-1].sess
			afterAt, afterID, first = last.ExpiresAt, last.ID, false
		}
	}
}

type expiredRow struct {
	sess *Session
	err  error
}

// collectExpired reads a whole page before anything is yielded, so the
// connection is released while the consumer deletes rows. A row that fails to
// scan becomes an item of its own carrying only its key.
func collectExpired(rows pgx.Rows) ([]expiredRow, error) {
	defer rows.Close()

	var page []expiredRow
	for rows.Next() {
		sess, err := scanSession(rows)
		if err == nil {
			page = append(page, expiredRow{sess: sess})
			continue
		}

		values, verr := rows.Values()
		if verr != nil || len(values) < 7 {
			return nil, err
		}
		id, ok := values[0].(string)
		expiresAt, okAt := values[6].(time.Time)
		if !ok || !okAt {
			return nil, err
		}
		if !errors.Is(err, ErrCorrupt) {
			err = fmt.Errorf("%w: %s: %v", ErrRepository, id, err)
		}
		page = append(page, expiredRow{sess: &Session{ID: id, ExpiresAt: expiresAt}, err: err})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// SessionIDsForUser lists the ids of a user's stored sessions.
func (p *PostgresRepository) SessionIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM gosession.sessions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return ids, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess        Session
		tokenHash   []byte
		permissions []string
		revision    int64
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&tokenHash,
		&sess.Role,
		&permissions,
		&sess.CreatedAt,
		&sess.ExpiresAt,
		&sess.Metadata.IP,
		&sess.Metadata.UserAgent,
		&sess.Metadata.DeviceID,
		&sess.Metadata.LastActive,
		&revision,
	)
	if err != nil {
		return nil, err
	}
	if len(tokenHash) != len(sess.TokenHash) {
		return nil, fmt.Errorf("%w: %s: token hash length %d", ErrCorrupt, sess.ID, len(tokenHash))
	}
	copy(sess.TokenHash[:], tokenHash)
	sess.Permissions = permission.NewSet(permissions...)
	sess.Revision = uint64(revision)
	return &sess, nil
}
