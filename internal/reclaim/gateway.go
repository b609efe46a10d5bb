package reclaim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
	"humanproof_gateway/internal/session"
)

// InitError — провайдер недоступен или приложение сконфигурировано
// неверно; сессия при этом не регистрируется
type InitError struct {
	err error
}

func (e *InitError) Error() string { return fmt.Sprintf("failed to initiate attestation: %v", e.err) }
func (e *InitError) Unwrap() error { return e.err }

// EventPublisher fans out verified attestations to downstream
// consumers.
type EventPublisher interface {
	PublishAttestationVerified(ctx context.Context, sessionID string, session *model.ProofSession) error
}

// Gateway mediates the asynchronous attestation flow: it opens provider
// sessions, receives the provider's callback, verifies proofs and
// advances the session store.
type Gateway struct {
	provider   Provider
	verifier   ProofVerifier
	store      session.Store
	appID      string
	providerID string
	baseURL    string
	events     EventPublisher
	logger     *zap.Logger

	// userId -> sessionId, для поиска сессии пользователя
	userSessions sync.Map
}

func NewGateway(provider Provider, verifier ProofVerifier, store session.Store, appID, providerID, baseURL string, logger *zap.Logger) *Gateway {
	return &Gateway{
		provider:   provider,
		verifier:   verifier,
		store:      store,
		appID:      appID,
		providerID: providerID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// SetEventPublisher attaches an optional publisher for verified
// sessions.
func (g *Gateway) SetEventPublisher(p EventPublisher) {
	g.events = p
}

type contextMessage struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// Initiate opens a provider session for userID and registers it as
// PENDING. The wallet address, when present, travels in the proof
// context so the callback can be correlated back to the wallet.
func (g *Gateway) Initiate(ctx context.Context, userID, userAddress string) (*ProofRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required")
	}
	if g.appID == "" || g.providerID == "" {
		return nil, &InitError{err: fmt.Errorf("attestation provider is not configured")}
	}

	req := CreateRequest{
		AppID:       g.appID,
		ProviderID:  g.providerID,
		CallbackURL: g.baseURL + "/api/reclaim/callback",
	}

	if userAddress != "" {
		msg, err := json.Marshal(contextMessage{UserID: userID, Timestamp: time.Now().UnixMilli()})
		if err != nil {
			return nil, &InitError{err: fmt.Errorf("failed to marshal context: %w", err)}
		}
		req.ContextAddress = userAddress
		req.ContextMessage = string(msg)
	}

	pr, err := g.provider.CreateProofRequest(ctx, req)
	if err != nil {
		g.logger.Error("failed to create proof request", zap.Error(err), zap.String("user_id", userID))
		return nil, &InitError{err: err}
	}

	sess := &model.ProofSession{
		UserID:      userID,
		UserAddress: userAddress,
		Status:      model.SessionPending,
		CreatedAt:   time.Now(),
	}
	if err := g.store.Put(ctx, pr.SessionID, sess); err != nil {
		return nil, &InitError{err: fmt.Errorf("failed to register session: %w", err)}
	}
	g.userSessions.Store(userID, pr.SessionID)

	g.logger.Info("attestation session initiated",
		zap.String("session_id", pr.SessionID),
		zap.String("user_id", userID))
	return pr, nil
}

// HandleCallback processes an inbound provider delivery. Session pings
// only advance session status. Proof batches are verified per element
// with partial-failure semantics: an invalid proof becomes a
// {valid:false} entry and never aborts its siblings.
func (g *Gateway) HandleCallback(ctx context.Context, body []byte) ([]model.VerifiedProof, error) {
	cb, err := classifyRawOrEscaped(body)
	if err != nil {
		return nil, err
	}

	if cb.kind == kindSessionPing {
		g.handleSessionPing(ctx, cb.ping)
		return nil, nil
	}

	verified := make([]model.VerifiedProof, 0, len(cb.proofs))
	for _, raw := range cb.proofs {
		verified = append(verified, g.processProof(ctx, raw))
	}
	return verified, nil
}

func (g *Gateway) handleSessionPing(ctx context.Context, ping *sessionPing) {
	// Маркер "генерация прошла" оставляет сессию в PENDING до прихода
	// самого proof
	target := model.SessionPending
	if strings.Contains(ping.Status, "FAIL") {
		target = model.SessionFailed
	}

	g.logger.Info("session ping received",
		zap.String("session_id", ping.SessionID),
		zap.String("status", ping.Status))

	if target == model.SessionPending {
		return
	}

	err := g.store.CompareAndSwapStatus(ctx, ping.SessionID, model.SessionPending, target, nil)
	if err != nil && !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrStatusConflict) {
		g.logger.Error("failed to update session from ping",
			zap.String("session_id", ping.SessionID), zap.Error(err))
	}
}

func (g *Gateway) processProof(ctx context.Context, raw json.RawMessage) model.VerifiedProof {
	var proof Proof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return model.VerifiedProof{Valid: false, Error: fmt.Sprintf("malformed proof: %v", err)}
	}

	if err := g.verifier.Verify(ctx, &proof); err != nil {
		g.logger.Warn("proof verification failed",
			zap.String("identifier", proof.Identifier), zap.Error(err))
		return model.VerifiedProof{Valid: false, Error: err.Error()}
	}

	contextAddress, ctxMsg, kyc := parseClaimContext(proof.ClaimData.Context)

	result := model.VerifiedProof{
		Valid:          true,
		ContextAddress: contextAddress,
		ContextMessage: ctxMsg,
		KYCData:        kyc,
		Proof:          raw,
	}

	// Переводим сессию в VERIFIED; отсутствие сессии не фатально,
	// proof всё равно возвращается вызывающему
	now := time.Now()
	err := g.store.CompareAndSwapStatus(ctx, proof.Identifier, model.SessionPending, model.SessionVerified, func(s *model.ProofSession) {
		s.KYCData = kyc
		s.VerifiedAt = &now
	})
	switch {
	case errors.Is(err, session.ErrNotFound):
		g.logger.Debug("no session for verified proof", zap.String("identifier", proof.Identifier))
	case errors.Is(err, session.ErrStatusConflict):
		g.logger.Debug("session already terminal", zap.String("identifier", proof.Identifier))
	case err != nil:
		g.logger.Error("failed to update session", zap.String("identifier", proof.Identifier), zap.Error(err))
	default:
		g.logger.Info("proof verified",
			zap.String("identifier", proof.Identifier),
			zap.String("address", contextAddress))
		g.publishVerified(ctx, proof.Identifier)
	}

	return result
}

// publishVerified is best-effort: a broker outage never fails the
// callback.
func (g *Gateway) publishVerified(ctx context.Context, sessionID string) {
	if g.events == nil {
		return
	}
	sess, err := g.store.Get(ctx, sessionID)
	if err != nil {
		return
	}
	if err := g.events.PublishAttestationVerified(ctx, sessionID, sess); err != nil {
		g.logger.Warn("failed to publish attestation event",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

type claimContext struct {
	ContextAddress      string            `json:"contextAddress"`
	ContextMessage      string            `json:"contextMessage"`
	ExtractedParameters map[string]string `json:"extractedParameters"`
}

// parseClaimContext recovers the bound wallet address, the original
// signed message and the KYC claim fields from the proof context.
// Field names vary per provider template, hence the alias fan-out.
func parseClaimContext(raw string) (string, json.RawMessage, *model.KYCData) {
	var cc claimContext
	if err := json.Unmarshal([]byte(raw), &cc); err != nil {
		return "", nil, nil
	}

	var msg json.RawMessage
	if cc.ContextMessage != "" && json.Valid([]byte(cc.ContextMessage)) {
		msg = json.RawMessage(cc.ContextMessage)
	}

	params := cc.ExtractedParameters
	if len(params) == 0 {
		return cc.ContextAddress, msg, nil
	}

	status := firstOf(params, "kycStatus", "KYC_status")
	kyc := &model.KYCData{
		KycStatus: status,
		FirstName: firstOf(params, "firstName", "Name"),
		LastName:  firstOf(params, "lastName", "Surname"),
		Dob:       firstOf(params, "dob", "DOB"),
		Verified:  status == "PASS" || status == "Verified",
	}
	return cc.ContextAddress, msg, kyc
}

func firstOf(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// SessionStatus returns the current session record.
func (g *Gateway) SessionStatus(ctx context.Context, sessionID string) (*model.ProofSession, error) {
	return g.store.Get(ctx, sessionID)
}

// FindUserSession resolves the most recent session initiated for a
// user id. The index is process-local, matching the ephemeral session
// contract.
func (g *Gateway) FindUserSession(ctx context.Context, userID string) (string, *model.ProofSession, error) {
	v, ok := g.userSessions.Load(userID)
	if !ok {
		return "", nil, session.ErrNotFound
	}
	sessionID := v.(string)

	sess, err := g.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		// стор уже истёк сессию — чистим индекс вслед за ним
		g.userSessions.CompareAndDelete(userID, v)
		return "", nil, session.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	return sessionID, sess, nil
}
