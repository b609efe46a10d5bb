package reclaim

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"humanproof_gateway/internal/model"
	"humanproof_gateway/internal/session"
)

func TestPollStatusTerminal(t *testing.T) {
	var calls atomic.Int32

	status := func(_ context.Context, _ string) (*model.ProofSession, error) {
		if calls.Add(1) < 3 {
			return &model.ProofSession{Status: model.SessionPending}, nil
		}
		return &model.ProofSession{Status: model.SessionVerified}, nil
	}

	sess, err := PollStatus(context.Background(), "sess-1", status, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != model.SessionVerified {
		t.Errorf("expected VERIFIED, got %s", sess.Status)
	}
	if calls.Load() < 3 {
		t.Errorf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestPollStatusTimeout(t *testing.T) {
	status := func(_ context.Context, _ string) (*model.ProofSession, error) {
		return &model.ProofSession{Status: model.SessionPending}, nil
	}

	_, err := PollStatus(context.Background(), "sess-1", status, time.Millisecond, 20*time.Millisecond)
	if !errors.Is(err, ErrPollTimeout) {
		t.Errorf("expected ErrPollTimeout, got %v", err)
	}
}

func TestPollStatusToleratesMissingSession(t *testing.T) {
	// Callback ещё не пришёл: сессии может не быть вовсе, это не ошибка
	var calls atomic.Int32

	status := func(_ context.Context, _ string) (*model.ProofSession, error) {
		if calls.Add(1) < 2 {
			return nil, session.ErrNotFound
		}
		return &model.ProofSession{Status: model.SessionFailed}, nil
	}

	sess, err := PollStatus(context.Background(), "sess-1", status, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != model.SessionFailed {
		t.Errorf("expected FAILED, got %s", sess.Status)
	}
}

func TestPollStatusPropagatesQueryError(t *testing.T) {
	wantErr := errors.New("store down")
	status := func(_ context.Context, _ string) (*model.ProofSession, error) {
		return nil, wantErr
	}

	_, err := PollStatus(context.Background(), "sess-1", status, time.Millisecond, time.Second)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected query error to propagate, got %v", err)
	}
}
