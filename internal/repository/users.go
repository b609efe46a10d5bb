package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

type UserRepository interface {
	GetOrCreate(ctx context.Context, walletAddress string) (*model.User, error)
	Get(ctx context.Context, walletAddress string) (*model.User, error)
	CanPerformAction(ctx context.Context, walletAddress string, action model.Action) (bool, error)
}

type userRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewUserRepository(db *pgxpool.Pool, logger *zap.Logger) UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

// GetOrCreate — upsert при первом обращении; пользователь никогда не
// удаляется
func (r *userRepository) GetOrCreate(ctx context.Context, walletAddress string) (*model.User, error) {
	query := `
		INSERT INTO users (wallet_address)
		VALUES ($1)
		ON CONFLICT (wallet_address) DO UPDATE SET updated_at = now()
		RETURNING wallet_address, has_completed_verification, has_completed_analysis, has_uploaded_to_walrus, created_at, updated_at
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, walletAddress).
		Scan(&user.WalletAddress, &user.HasCompletedVerification, &user.HasCompletedAnalysis, &user.HasUploadedToWalrus, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to upsert user", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return &user, nil
}

func (r *userRepository) Get(ctx context.Context, walletAddress string) (*model.User, error) {
	query := `
		SELECT wallet_address, has_completed_verification, has_completed_analysis, has_uploaded_to_walrus, created_at, updated_at
		FROM users
		WHERE wallet_address = $1
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, walletAddress).
		Scan(&user.WalletAddress, &user.HasCompletedVerification, &user.HasCompletedAnalysis, &user.HasUploadedToWalrus, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get user", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// CanPerformAction — кошелёк, которого ещё нет в базе, может выполнить
// любое действие; выставленный флаг запрещает действие навсегда
func (r *userRepository) CanPerformAction(ctx context.Context, walletAddress string, action model.Action) (bool, error) {
	column, err := flagColumn(action)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE wallet_address = $1`, column)

	var completed bool
	err = r.db.QueryRow(ctx, query, walletAddress).Scan(&completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		r.logger.Error("failed to check action flag", zap.Error(err), zap.String("wallet", walletAddress))
		return false, fmt.Errorf("failed to check action flag: %w", err)
	}

	return !completed, nil
}
