package repository

import (
	"fmt"

	"humanproof_gateway/internal/model"
)

// AlreadyCompletedError — ожидаемый, не фатальный сигнал: кошелёк уже
// выполнил это действие. Оркестратор показывает его как "already done",
// а не как ошибку.
type AlreadyCompletedError struct {
	Action model.Action
}

func (e *AlreadyCompletedError) Error() string {
	switch e.Action {
	case model.ActionVerification:
		return "user has already completed verification"
	case model.ActionAnalysis:
		return "user has already completed analysis"
	case model.ActionWalrus:
		return "user has already uploaded to Walrus"
	}
	return fmt.Sprintf("user has already completed %s", e.Action)
}

// flagColumn maps an action onto the users completion flag backing it.
func flagColumn(action model.Action) (string, error) {
	switch action {
	case model.ActionVerification:
		return "has_completed_verification", nil
	case model.ActionAnalysis:
		return "has_completed_analysis", nil
	case model.ActionWalrus:
		return "has_uploaded_to_walrus", nil
	}
	return "", fmt.Errorf("unknown action: %s", action)
}
