package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// RevokedTokens is the revocation list consulted by the session gate
type RevokedTokens interface {
	Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type revokedTokens struct {
	db *bun.DB
}

var _ RevokedTokens = (*revokedTokens)(nil)

// NewRevokedTokensRepository returns a bun backed revocation list
func NewRevokedTokensRepository(db *bun.DB) RevokedTokens {
	return &revokedTokens{db: db}
}

func (r *revokedTokens) Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}

	record := &RevokedToken{
		TokenID:   tokenID,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
	}

	_, err := r.db.NewInsert().
		Model(record).
		On("CONFLICT (jti) DO NOTHING").
		Exec(ctx)
	return err
}

func (r *revokedTokens) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}

	return r.db.NewSelect().
		Model((*RevokedToken)(nil)).
		Where("jti = ?", tokenID).
		Exists(ctx)
}

// PurgeExpired drops entries whose token would already fail on expiry.
func (r *revokedTokens) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RevokedToken)(nil)).
		Where("expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
