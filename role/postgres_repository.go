package role

import (
	"context"
	"iter"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goSession/permission"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS gosession;

CREATE TABLE IF NOT EXISTS gosession.roles (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	permissions TEXT[] NOT NULL DEFAULT '{}'
);
`

// PostgresRepository reads roles from gosession.roles.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Postgres-backed role repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the roles table if missing.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return err
}

// Save upserts a role row.
func (p *PostgresRepository) Save(ctx context.Context, role Role) error {
	perms := role.Permissions.Names()
	if perms == nil {
		perms = []string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO gosession.roles (id, name, permissions)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, permissions = EXCLUDED.permissions
	`, role.ID, role.Name, perms)
	return err
}

func (p *PostgresRepository) ListAll(ctx context.Context) iter.Seq2[Role, error] {
	return func(yield func(Role, error) bool) {
		rows, err := p.pool.Query(ctx, `SELECT id, name, permissions FROM gosession.roles ORDER BY id`)
		if err != nil {
			yield(Role{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r     Role
				perms []string
			)
			if err := rows.Scan(&r.ID, &r.Name, &perms); err != nil {
				yield(Role{}, err)
				return
			}
			r.Permissions = permission.NewSet(perms...)
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Role{}, err)
		}
	}
}

var _ Repository = (*PostgresRepository)(nil)
