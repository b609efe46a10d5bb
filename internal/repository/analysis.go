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

type AnalysisRepository interface {
	Save(ctx context.Context, a *model.AnalysisResult) (*model.AnalysisResult, error)
	Get(ctx context.Context, walletAddress string) (*model.AnalysisResult, error)
}

type analysisRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAnalysisRepository(db *pgxpool.Pool, logger *zap.Logger) AnalysisRepository {
	return &analysisRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores the analysis result for a wallet. Unlike verifications a
// repeat is rejected, not replaced: the first stored result stays.
func (r *analysisRepository) Save(ctx context.Context, a *model.AnalysisResult) (*model.AnalysisResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	completed, err := upsertUserLocked(ctx, tx, a.WalletAddress, "has_completed_analysis")
	if err != nil {
		return nil, err
	}
	if completed {
		return nil, &AlreadyCompletedError{Action: model.ActionAnalysis}
	}

	query := `
		INSERT INTO analysis_results (id, wallet_address, human_score, success_rate,
			total_transactions, successful_transactions, failed_transactions, ai_analysis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (wallet_address) DO NOTHING
		RETURNING id, created_at
	`

	saved := *a
	err = tx.QueryRow(ctx, query,
		uuid.New().String(), a.WalletAddress, a.HumanScore, a.SuccessRate,
		a.TotalTransactions, a.SuccessfulTransactions, a.FailedTransactions, a.AIAnalysis, time.Now()).
		Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// строка уже есть — значит флаг не успели выставить
			return nil, &AlreadyCompletedError{Action: model.ActionAnalysis}
		}
		r.logger.Error("failed to save analysis", zap.Error(err), zap.String("wallet", a.WalletAddress))
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET has_completed_analysis = true, updated_at = now() WHERE wallet_address = $1`, a.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to set analysis flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit analysis: %w", err)
	}

	r.logger.Info("analysis saved",
		zap.String("wallet", a.WalletAddress),
		zap.Int("human_score", a.HumanScore))
	return &saved, nil
}

func (r *analysisRepository) Get(ctx context.Context, walletAddress string) (*model.AnalysisResult, error) {
	query := `
		SELECT id, wallet_address, human_score, success_rate,
			total_transactions, successful_transactions, failed_transactions, ai_analysis, created_at
		FROM analysis_results
		WHERE wallet_address = $1
	`

	var a model.AnalysisResult
	err := r.db.QueryRow(ctx, query, walletAddress).
		Scan(&a.ID, &a.WalletAddress, &a.HumanScore, &a.SuccessRate,
			&a.TotalTransactions, &a.SuccessfulTransactions, &a.FailedTransactions, &a.AIAnalysis, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get analysis", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &a, nil
}
