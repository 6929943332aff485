package authgate

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PurposeTokens manages one-shot credentials for verification, password
// reset, and email change flows. A user holds at most one live token per
// purpose; issuing replaces any previous token for that (user, purpose).
type PurposeTokens interface {
	Issue(ctx context.Context, token *PurposeToken) (*PurposeToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, token *PurposeToken) (*PurposeToken, error)

	Find(ctx context.Context, userID uuid.UUID, purpose TokenPurpose) (*PurposeToken, error)
	FindTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) (*PurposeToken, error)

	Consume(ctx context.Context, id uuid.UUID) error
	ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	DeleteForUser(ctx context.Context, tx bun.IDB, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)

	StartSweeper(ctx context.Context, interval time.Duration, logger Logger)
}

type purposeTokens struct {
	db    *bun.DB
	clock Clock
}

var _ PurposeTokens = (*purposeTokens)(nil)

// NewPurposeTokensRepository builds the token repository over bun.
func NewPurposeTokensRepository(db *bun.DB, clock Clock) PurposeTokens {
	if clock == nil {
		clock = SystemClock
	}
	return &purposeTokens{db: db, clock: clock}
}

func (r *purposeTokens) Issue(ctx context.Context, token *PurposeToken) (*PurposeToken, error) {
	var out *PurposeToken
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		out, err = r.IssueTx(ctx, tx, token)
		return err
	})
	return out, err
}

// IssueTx replaces any prior token for the same user and purpose, so at
// most one is live at a time.
func (r *purposeTokens) IssueTx(ctx context.Context, tx bun.IDB, token *PurposeToken) (*PurposeToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	now := r.clock.Now()
	token.CreatedAt = &now

	_, err := tx.NewDelete().Model((*PurposeToken)(nil)).
		Where("user_id = ?", token.UserID).
		Where("purpose = ?", token.Purpose).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, err
	}

	return token, nil
}

func (r *purposeTokens) Find(ctx context.Context, userID uuid.UUID, purpose TokenPurpose) (*PurposeToken, error) {
	return r.FindTx(ctx, r.db, userID, purpose)
}

// FindTx treats expired tokens as absent, the sweeper only reclaims rows.
func (r *purposeTokens) FindTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose TokenPurpose) (*PurposeToken, error) {
	record := &PurposeToken{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.expires_at > ?", r.clock.Now()).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID.String(),
					"purpose": string(purpose),
				})
		}
		return nil, err
	}

	return record, nil
}

func (r *purposeTokens) Consume(ctx context.Context, id uuid.UUID) error {
	return r.ConsumeTx(ctx, r.db, id)
}

func (r *purposeTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewDelete().Model((*PurposeToken)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *purposeTokens) DeleteForUser(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	if tx == nil {
		tx = r.db
	}
	_, err := tx.NewDelete().Model((*PurposeToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (r *purposeTokens) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.NewDelete().Model((*PurposeToken)(nil)).
		Where("expires_at <= ?", r.clock.Now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// StartSweeper periodically reclaims expired token rows until ctx is done.
func (r *purposeTokens) StartSweeper(ctx context.Context, interval time.Duration, logger Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if logger == nil {
		logger = &defLogger{}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.DeleteExpired(ctx)
				if err != nil {
					logger.Error("token sweep failed: %v", err)
					continue
				}
				if n > 0 {
					logger.Debug("token sweep reclaimed %d expired tokens", n)
				}
			}
		}
	}()
}
