package reclaim

import (
	"context"
	"errors"
	"time"

	"humanproof_gateway/internal/model"
	"humanproof_gateway/internal/session"
)

// ErrPollTimeout — терминальный статус не наблюдался за отведённое время.
// Сессия при этом не трогается: поздний callback всё ещё будет учтён
// последующей проверкой статуса.
var ErrPollTimeout = errors.New("verification timeout")

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 300 * time.Second
)

// StatusFunc queries the current session record, locally or over HTTP.
type StatusFunc func(ctx context.Context, sessionID string) (*model.ProofSession, error)

// PollStatus is the cooperative client-side helper: it re-queries the
// session at a fixed interval until a terminal state is observed or the
// timeout elapses. Dropped or arbitrarily delayed callbacks surface as
// ErrPollTimeout without corrupting the session record.
func PollStatus(ctx context.Context, sessionID string, status StatusFunc, interval, timeout time.Duration) (*model.ProofSession, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sess, err := status(ctx, sessionID)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		if sess != nil && sess.Status.Terminal() {
			return sess, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrPollTimeout
		case <-ticker.C:
		}
	}
}
