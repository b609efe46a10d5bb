package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

// HistorySource returns a wallet's recent transactions.
type HistorySource interface {
	Activities(ctx context.Context, address string) ([]model.Transaction, error)
}

// Narrator is the optional narrative-generation collaborator. Any
// failure is absorbed by the engine's deterministic fallback.
type Narrator interface {
	Narrate(ctx context.Context, stats model.TransactionStats, txs []model.Transaction) (string, error)
}

// Engine turns a wallet's transaction history into success-rate
// statistics, a 0-100 human score and a narrative.
type Engine struct {
	history  HistorySource
	narrator Narrator
	logger   *zap.Logger
}

func NewEngine(history HistorySource, narrator Narrator, logger *zap.Logger) *Engine {
	return &Engine{
		history:  history,
		narrator: narrator,
		logger:   logger,
	}
}

// ComputeStats counts successes case-insensitively. An empty list
// yields all zeroes.
func ComputeStats(txs []model.Transaction) model.TransactionStats {
	stats := model.TransactionStats{Total: len(txs)}
	if stats.Total == 0 {
		return stats
	}

	for _, tx := range txs {
		if strings.EqualFold(tx.Status, "success") {
			stats.Successful++
		}
	}
	stats.Failed = stats.Total - stats.Successful
	stats.SuccessRate = 100 * float64(stats.Successful) / float64(stats.Total)
	return stats
}

// HumanScore maps a success rate onto [0,100]. The two segments are
// intentionally discontinuous at 51%: a moderate failure rate, not a
// perfect one, is treated as the most human-like signal, so 50% maps
// to 40 while 51% maps to 60.
func HumanScore(successRate float64) int {
	var score float64
	if successRate >= 51 {
		score = math.Round(60 + (successRate-51)/49*40)
	} else {
		score = math.Round(successRate / 50 * 40)
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// Narrative asks the AI collaborator for commentary and falls back to
// the rule-based text on any failure. The caller always gets non-empty
// text.
func (e *Engine) Narrative(ctx context.Context, stats model.TransactionStats, txs []model.Transaction) string {
	if e.narrator != nil {
		text, err := e.narrator.Narrate(ctx, stats, txs)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		if err != nil {
			e.logger.Warn("narrative generation unavailable, using fallback", zap.Error(err))
		}
	}
	return FallbackNarrative(stats)
}

// FallbackNarrative — детерминированные четыре уровня плюс случай
// пустой истории
func FallbackNarrative(stats model.TransactionStats) string {
	if stats.Total == 0 {
		return "No onchain activity found for this wallet yet, so there is nothing to score. Make a few transactions and analyze again."
	}

	switch {
	case stats.SuccessRate >= 90:
		return fmt.Sprintf("%d of %d transactions succeeded (%.1f%%). An almost flawless record like this is usually produced by careful, deliberate wallet use.",
			stats.Successful, stats.Total, stats.SuccessRate)
	case stats.SuccessRate >= 51:
		return fmt.Sprintf("%d of %d transactions succeeded (%.1f%%). A solid success rate with occasional failures is the typical signature of a human-operated wallet.",
			stats.Successful, stats.Total, stats.SuccessRate)
	case stats.SuccessRate >= 20:
		return fmt.Sprintf("Only %d of %d transactions succeeded (%.1f%%). A failure-heavy history like this often points to experimentation or partially automated activity.",
			stats.Successful, stats.Total, stats.SuccessRate)
	default:
		return fmt.Sprintf("%d of %d transactions succeeded (%.1f%%). An overwhelmingly failing history strongly resembles scripted or bot behavior.",
			stats.Successful, stats.Total, stats.SuccessRate)
	}
}

// Analyze runs the full composition: fetch, stats, score, narrative.
// A history fetch failure is fatal; there is no partial result.
func (e *Engine) Analyze(ctx context.Context, address string) (*model.AnalysisResult, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	txs, err := e.history.Activities(ctx, address)
	if err != nil {
		e.logger.Error("failed to fetch transaction history", zap.Error(err), zap.String("address", address))
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	stats := ComputeStats(txs)
	score := HumanScore(stats.SuccessRate)
	narrative := e.Narrative(ctx, stats, txs)

	e.logger.Info("wallet analyzed",
		zap.String("address", address),
		zap.Int("human_score", score),
		zap.Float64("success_rate", stats.SuccessRate),
		zap.Int("total", stats.Total))

	return &model.AnalysisResult{
		WalletAddress:          address,
		HumanScore:             score,
		SuccessRate:            stats.SuccessRate,
		TotalTransactions:      stats.Total,
		SuccessfulTransactions: stats.Successful,
		FailedTransactions:     stats.Failed,
		AIAnalysis:             &narrative,
	}, nil
}
