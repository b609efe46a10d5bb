package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

type VerificationRepository interface {
	Save(ctx context.Context, v *model.Verification) (*model.Verification, error)
	GetByCex(ctx context.Context, walletAddress, cexType string) (*model.Verification, error)
	GetAll(ctx context.Context, walletAddress string) ([]*model.Verification, error)
}

type verificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewVerificationRepository(db *pgxpool.Pool, logger *zap.Logger) VerificationRepository {
	return &verificationRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the verification record for (wallet, cexType) and sets
// the user's verification flag in the same transaction. A wallet whose
// flag is already set gets AlreadyCompletedError.
func (r *verificationRepository) Save(ctx context.Context, v *model.Verification) (*model.Verification, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	completed, err := upsertUserLocked(ctx, tx, v.WalletAddress, "has_completed_verification")
	if err != nil {
		return nil, err
	}
	if completed {
		return nil, &AlreadyCompletedError{Action: model.ActionVerification}
	}

	query := `
		INSERT INTO verifications (id, wallet_address, cex_type, user_id, proofs, verified, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (wallet_address, cex_type) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    proofs = EXCLUDED.proofs,
			    verified = EXCLUDED.verified,
			    session_id = EXCLUDED.session_id,
			    created_at = EXCLUDED.created_at
		RETURNING id, created_at
	`

	saved := *v
	saved.Verified = true
	now := time.Now()
	err = tx.QueryRow(ctx, query,
		uuid.New().String(), v.WalletAddress, v.CexType, v.UserID, v.Proofs, true, v.SessionID, now).
		Scan(&saved.ID, &saved.Timestamp)
	if err != nil {
		r.logger.Error("failed to save verification", zap.Error(err), zap.String("wallet", v.WalletAddress))
		return nil, fmt.Errorf("failed to save verification: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET has_completed_verification = true, updated_at = now() WHERE wallet_address = $1`, v.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to set verification flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit verification: %w", err)
	}

	r.logger.Info("verification saved",
		zap.String("wallet", v.WalletAddress),
		zap.String("cex_type", v.CexType))
	return &saved, nil
}

func (r *verificationRepository) GetByCex(ctx context.Context, walletAddress, cexType string) (*model.Verification, error) {
	query := `
		SELECT id, wallet_address, cex_type, user_id, proofs, verified, session_id, created_at
		FROM verifications
		WHERE wallet_address = $1 AND cex_type = $2
	`

	var v model.Verification
	err := r.db.QueryRow(ctx, query, walletAddress, cexType).
		Scan(&v.ID, &v.WalletAddress, &v.CexType, &v.UserID, &v.Proofs, &v.Verified, &v.SessionID, &v.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get verification", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	return &v, nil
}

func (r *verificationRepository) GetAll(ctx context.Context, walletAddress string) ([]*model.Verification, error) {
	query := `
		SELECT id, wallet_address, cex_type, user_id, proofs, verified, session_id, created_at
		FROM verifications
		WHERE wallet_address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, walletAddress)
	if err != nil {
		r.logger.Error("failed to get verifications", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to get verifications: %w", err)
	}
	defer rows.Close()

	var verifications []*model.Verification
	for rows.Next() {
		var v model.Verification
		err := rows.Scan(&v.ID, &v.WalletAddress, &v.CexType, &v.UserID, &v.Proofs, &v.Verified, &v.SessionID, &v.Timestamp)
		if err != nil {
			r.logger.Error("failed to scan verification", zap.Error(err))
			continue
		}
		verifications = append(verifications, &v)
	}

	return verifications, nil
}

// upsertUserLocked ensures the user row exists and returns the current
// value of the given completion flag with the row locked for the rest
// of the transaction. The row lock plus the unique constraints close
// the race between check and write.
func upsertUserLocked(ctx context.Context, tx pgx.Tx, walletAddress, column string) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (wallet_address) VALUES ($1)
		ON CONFLICT (wallet_address) DO NOTHING
	`, walletAddress)
	if err != nil {
		return false, fmt.Errorf("failed to upsert user: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE wallet_address = $1 FOR UPDATE`, column)

	var completed bool
	if err := tx.QueryRow(ctx, query, walletAddress).Scan(&completed); err != nil {
		return false, fmt.Errorf("failed to lock user row: %w", err)
	}
	return completed, nil
}
