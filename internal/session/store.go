package session

import (
	"context"
	"errors"

	"humanproof_gateway/internal/model"
)

var (
	// ErrNotFound — сессия не найдена или уже истекла
	ErrNotFound = errors.New("session not found")
	// ErrStatusConflict marks a rejected transition: the session is not
	// in the expected source state. Terminal states are final.
	ErrStatusConflict = errors.New("session status conflict")
)

// Store is the injected keyed store of proof sessions. Each session id
// is issued once by the attestation provider, so there is a single
// logical writer per id; CompareAndSwapStatus still guards the
// PENDING-to-terminal transition so a late or repeated callback can
// never overwrite a terminal state.
type Store interface {
	Put(ctx context.Context, id string, s *model.ProofSession) error
	Get(ctx context.Context, id string) (*model.ProofSession, error)
	// CompareAndSwapStatus moves the session from `from` to `to` and
	// applies `apply` (may be nil) to the record under the same swap.
	CompareAndSwapStatus(ctx context.Context, id string, from, to model.SessionStatus, apply func(*model.ProofSession)) error
	Delete(ctx context.Context, id string) error
	Close() error
}
