package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

type WalrusRepository interface {
	Save(ctx context.Context, u *model.WalrusUpload) (*model.WalrusUpload, error)
	GetByWallet(ctx context.Context, walletAddress string) (*model.WalrusUpload, error)
	GetByBlobID(ctx context.Context, blobID string) (*model.WalrusUpload, error)
}

type walrusRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewWalrusRepository(db *pgxpool.Pool, logger *zap.Logger) WalrusRepository {
	return &walrusRepository{
		db:     db,
		logger: logger,
	}
}

// Save records the published blob and sets the user's upload flag in
// one transaction. One upload per wallet; repeats get
// AlreadyCompletedError.
func (r *walrusRepository) Save(ctx context.Context, u *model.WalrusUpload) (*model.WalrusUpload, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	completed, err := upsertUserLocked(ctx, tx, u.WalletAddress, "has_uploaded_to_walrus")
	if err != nil {
		return nil, err
	}
	if completed {
		return nil, &AlreadyCompletedError{Action: model.ActionWalrus}
	}

	query := `
		INSERT INTO walrus_uploads (wallet_address, blob_id, encrypted_size, uploaded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_address) DO NOTHING
		RETURNING uploaded_at
	`

	saved := *u
	var size *int
	if u.Meta != nil {
		size = &u.Meta.Size
	}
	err = tx.QueryRow(ctx, query, u.WalletAddress, u.BlobID, size, time.Now()).
		Scan(&saved.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &AlreadyCompletedError{Action: model.ActionWalrus}
		}
		r.logger.Error("failed to save walrus upload", zap.Error(err), zap.String("wallet", u.WalletAddress))
		return nil, fmt.Errorf("failed to save walrus upload: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET has_uploaded_to_walrus = true, updated_at = now() WHERE wallet_address = $1`, u.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to set upload flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit walrus upload: %w", err)
	}

	if saved.Meta != nil {
		saved.Meta.UploadedAt = saved.UploadedAt
	}
	r.logger.Info("walrus upload saved",
		zap.String("wallet", u.WalletAddress),
		zap.String("blob_id", u.BlobID))
	return &saved, nil
}

func (r *walrusRepository) GetByWallet(ctx context.Context, walletAddress string) (*model.WalrusUpload, error) {
	return r.get(ctx, `WHERE wallet_address = $1`, walletAddress)
}

func (r *walrusRepository) GetByBlobID(ctx context.Context, blobID string) (*model.WalrusUpload, error) {
	return r.get(ctx, `WHERE blob_id = $1`, blobID)
}

func (r *walrusRepository) get(ctx context.Context, where, arg string) (*model.WalrusUpload, error) {
	query := `
		SELECT wallet_address, blob_id, encrypted_size, uploaded_at
		FROM walrus_uploads ` + where

	var u model.WalrusUpload
	var size *int
	err := r.db.QueryRow(ctx, query, arg).
		Scan(&u.WalletAddress, &u.BlobID, &size, &u.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get walrus upload", zap.Error(err))
		return nil, fmt.Errorf("failed to get walrus upload: %w", err)
	}
	if size != nil {
		u.Meta = &model.UploadMeta{Size: *size, UploadedAt: u.UploadedAt}
	}

	return &u, nil
}
