package auth

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
)

// RepositoryManager groups the stores behind one database handle
type RepositoryManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() Users
	RevokedTokens() RevokedTokens
}

type repositoryManager struct {
	db            *bun.DB
	users         Users
	revokedTokens RevokedTokens
}

var _ RepositoryManager = (*repositoryManager)(nil)

// NewRepositoryManager wires every store to db
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &repositoryManager{
		db:            db,
		users:         NewUsersRepository(db),
		revokedTokens: NewRevokedTokensRepository(db),
	}
}

func (r *repositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, opts, f)
}

func (r *repositoryManager) Users() Users {
	return r.users
}

func (r *repositoryManager) RevokedTokens() RevokedTokens {
	return r.revokedTokens
}
