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

type BindingRepository interface {
	Save(ctx context.Context, b *model.AddressBinding) (*model.AddressBinding, error)
	Get(ctx context.Context, address, cexType string) (*model.AddressBinding, error)
	GetAll(ctx context.Context, address string) ([]*model.AddressBinding, error)
}

type bindingRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewBindingRepository(db *pgxpool.Pool, logger *zap.Logger) BindingRepository {
	return &bindingRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the binding for (address, cexType). Bindings are not
// guarded by a completion flag: re-binding replaces the signature.
func (r *bindingRepository) Save(ctx context.Context, b *model.AddressBinding) (*model.AddressBinding, error) {
	query := `
		INSERT INTO address_bindings (address, cex_type, user_id, signature, message, bound, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, cex_type) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    signature = EXCLUDED.signature,
			    message = EXCLUDED.message,
			    bound = EXCLUDED.bound,
			    created_at = EXCLUDED.created_at
		RETURNING created_at
	`

	saved := *b
	saved.Bound = true
	err := r.db.QueryRow(ctx, query,
		b.Address, b.CexType, b.UserID, b.Signature, b.Message, true, time.Now()).
		Scan(&saved.Timestamp)
	if err != nil {
		r.logger.Error("failed to save binding", zap.Error(err), zap.String("address", b.Address))
		return nil, fmt.Errorf("failed to save binding: %w", err)
	}

	r.logger.Info("address binding saved",
		zap.String("address", b.Address),
		zap.String("cex_type", b.CexType))
	return &saved, nil
}

func (r *bindingRepository) Get(ctx context.Context, address, cexType string) (*model.AddressBinding, error) {
	query := `
		SELECT address, cex_type, user_id, signature, message, bound, created_at
		FROM address_bindings
		WHERE address = $1 AND cex_type = $2
	`

	var b model.AddressBinding
	err := r.db.QueryRow(ctx, query, address, cexType).
		Scan(&b.Address, &b.CexType, &b.UserID, &b.Signature, &b.Message, &b.Bound, &b.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get binding", zap.Error(err), zap.String("address", address))
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}

	return &b, nil
}

func (r *bindingRepository) GetAll(ctx context.Context, address string) ([]*model.AddressBinding, error) {
	query := `
		SELECT address, cex_type, user_id, signature, message, bound, created_at
		FROM address_bindings
		WHERE address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, address)
	if err != nil {
		r.logger.Error("failed to get bindings", zap.Error(err), zap.String("address", address))
		return nil, fmt.Errorf("failed to get bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*model.AddressBinding
	for rows.Next() {
		var b model.AddressBinding
		err := rows.Scan(&b.Address, &b.CexType, &b.UserID, &b.Signature, &b.Message, &b.Bound, &b.Timestamp)
		if err != nil {
			r.logger.Error("failed to scan binding", zap.Error(err))
			continue
		}
		bindings = append(bindings, &b)
	}

	return bindings, nil
}
