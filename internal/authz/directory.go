package authz

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory answers whether a principal exists. The authenticating Principal
// Directory is an external subsystem; this port only guards referential
// integrity on admin mutations.
type Directory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// PGDirectory reads the directory-owned users relation.
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory constructs a directory backed by the users table.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

// UserExists implements Directory.
func (d *PGDirectory) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}
