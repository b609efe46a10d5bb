package reclaim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"humanproof_gateway/internal/model"
	"humanproof_gateway/internal/session"
)

// Mock для Provider
type mockProvider struct {
	createFunc func(ctx context.Context, req CreateRequest) (*ProofRequest, error)
}

func (m *mockProvider) CreateProofRequest(ctx context.Context, req CreateRequest) (*ProofRequest, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return &ProofRequest{
		RequestURL: "https://share.example/r/abc",
		StatusURL:  "https://api.example/status/sess-1",
		SessionID:  "sess-1",
		Config:     "{}",
	}, nil
}

// Mock для ProofVerifier
type mockVerifier struct {
	verifyFunc func(ctx context.Context, proof *Proof) error
}

func (m *mockVerifier) Verify(ctx context.Context, proof *Proof) error {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, proof)
	}
	return nil
}

func newTestGateway(t *testing.T, provider Provider, verifier ProofVerifier) (*Gateway, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour, zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	if provider == nil {
		provider = &mockProvider{}
	}
	if verifier == nil {
		verifier = &mockVerifier{}
	}
	g := NewGateway(provider, verifier, store, "app-1", "provider-1", "http://localhost:8080", zaptest.NewLogger(t))
	return g, store
}

func proofBody(t *testing.T, identifier, contextJSON string) []byte {
	t.Helper()
	p := Proof{
		Identifier: identifier,
		ClaimData: ClaimData{
			Provider: "http",
			Context:  contextJSON,
		},
		Signatures: []string{"0xsig"},
		Witnesses:  []Witness{{ID: "0x244897572368eadf65bfbc5aec98d8e5443a9072", URL: "wss://witness"}},
	}
	body, err := json.Marshal([]Proof{p})
	if err != nil {
		t.Fatalf("failed to marshal proof: %v", err)
	}
	return body
}

func TestInitiate(t *testing.T) {
	tests := []struct {
		name          string
		userID        string
		userAddress   string
		createErr     error
		expectedError string
		expectInit    bool
	}{
		{
			name:        "successful_init_with_address",
			userID:      "user-1",
			userAddress: "0xA1",
		},
		{
			name:   "successful_init_without_address",
			userID: "user-1",
		},
		{
			name:          "empty_user_id",
			userID:        "",
			expectedError: "userId is required",
		},
		{
			name:          "provider_unreachable",
			userID:        "user-1",
			createErr:     errors.New("connection refused"),
			expectedError: "failed to initiate attestation",
			expectInit:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq *CreateRequest
			provider := &mockProvider{
				createFunc: func(_ context.Context, req CreateRequest) (*ProofRequest, error) {
					gotReq = &req
					if tt.createErr != nil {
						return nil, tt.createErr
					}
					return &ProofRequest{RequestURL: "https://share.example/r/abc", SessionID: "sess-1"}, nil
				},
			}

			g, store := newTestGateway(t, provider, nil)

			pr, err := g.Initiate(context.Background(), tt.userID, tt.userAddress)

			if tt.expectedError != "" {
				if err == nil {
					t.Fatal("expected error, but got nil")
				}
				if tt.createErr != nil {
					var initErr *InitError
					if !errors.As(err, &initErr) {
						t.Errorf("expected InitError, got %T", err)
					}
					// Провайдер упал: сессия не должна быть зарегистрирована
					if _, err := store.Get(context.Background(), "sess-1"); !errors.Is(err, session.ErrNotFound) {
						t.Error("session must not be registered on provider failure")
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if pr.SessionID != "sess-1" {
				t.Errorf("unexpected session id: %s", pr.SessionID)
			}

			sess, err := store.Get(context.Background(), "sess-1")
			if err != nil {
				t.Fatalf("session not registered: %v", err)
			}
			if sess.Status != model.SessionPending {
				t.Errorf("expected PENDING session, got %s", sess.Status)
			}
			if sess.UserID != tt.userID || sess.UserAddress != tt.userAddress {
				t.Errorf("unexpected session record: %+v", sess)
			}

			if tt.userAddress != "" {
				if gotReq.ContextAddress != tt.userAddress {
					t.Errorf("expected context address %s, got %s", tt.userAddress, gotReq.ContextAddress)
				}
				var msg contextMessage
				if err := json.Unmarshal([]byte(gotReq.ContextMessage), &msg); err != nil {
					t.Fatalf("context message is not JSON: %v", err)
				}
				if msg.UserID != tt.userID || msg.Timestamp == 0 {
					t.Errorf("unexpected context message: %+v", msg)
				}
			} else if gotReq.ContextAddress != "" {
				t.Error("context must be omitted without a wallet address")
			}
		})
	}
}

func TestHandleCallbackProofs(t *testing.T) {
	claimCtx := `{"contextAddress":"0xA1","contextMessage":"{\"userId\":\"user-1\",\"timestamp\":1}","extractedParameters":{"kycStatus":"PASS","firstName":"Jane","lastName":"Doe","dob":"1990-01-01"}}`

	g, store := newTestGateway(t, nil, nil)
	ctx := context.Background()

	// Регистрируем PENDING сессию под идентификатором proof
	err := store.Put(ctx, "0xproof1", &model.ProofSession{
		UserID:    "user-1",
		Status:    model.SessionPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verified, err := g.HandleCallback(ctx, proofBody(t, "0xproof1", claimCtx))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(verified) != 1 {
		t.Fatalf("expected 1 verified proof, got %d", len(verified))
	}
	vp := verified[0]
	if !vp.Valid {
		t.Fatalf("expected valid proof, got error %q", vp.Error)
	}
	if vp.ContextAddress != "0xA1" {
		t.Errorf("expected context address 0xA1, got %s", vp.ContextAddress)
	}
	if vp.KYCData == nil || vp.KYCData.KycStatus != "PASS" || !vp.KYCData.Verified {
		t.Errorf("unexpected kyc data: %+v", vp.KYCData)
	}
	if vp.KYCData.FirstName != "Jane" || vp.KYCData.LastName != "Doe" || vp.KYCData.Dob != "1990-01-01" {
		t.Errorf("unexpected kyc fields: %+v", vp.KYCData)
	}

	sess, err := store.Get(ctx, "0xproof1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != model.SessionVerified {
		t.Errorf("expected VERIFIED session, got %s", sess.Status)
	}
	if sess.VerifiedAt == nil || sess.KYCData == nil {
		t.Error("expected kyc payload and verifiedAt on session")
	}
}

func TestHandleCallbackAliasFanOut(t *testing.T) {
	claimCtx := `{"contextAddress":"0xA1","extractedParameters":{"KYC_status":"Verified","Name":"Jane","Surname":"Doe","DOB":"1990-01-01"}}`

	g, _ := newTestGateway(t, nil, nil)

	verified, err := g.HandleCallback(context.Background(), proofBody(t, "0xproof2", claimCtx))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verified) != 1 || !verified[0].Valid {
		t.Fatalf("expected one valid proof, got %+v", verified)
	}

	kyc := verified[0].KYCData
	if kyc.KycStatus != "Verified" || !kyc.Verified {
		t.Errorf("alias KYC_status not honored: %+v", kyc)
	}
	if kyc.FirstName != "Jane" || kyc.LastName != "Doe" || kyc.Dob != "1990-01-01" {
		t.Errorf("alias name fields not honored: %+v", kyc)
	}
}

func TestHandleCallbackRejectedStatus(t *testing.T) {
	claimCtx := `{"contextAddress":"0xA1","extractedParameters":{"kycStatus":"REJECTED"}}`

	g, _ := newTestGateway(t, nil, nil)

	verified, err := g.HandleCallback(context.Background(), proofBody(t, "0xproof3", claimCtx))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verified[0].Valid {
		t.Fatal("proof itself is valid even when kyc status is not passing")
	}
	if verified[0].KYCData.Verified {
		t.Error("kyc must not be verified for REJECTED status")
	}
}

func TestHandleCallbackPartialFailure(t *testing.T) {
	claimCtx := `{"contextAddress":"0xA1","extractedParameters":{"kycStatus":"PASS"}}`

	verifier := &mockVerifier{
		verifyFunc: func(_ context.Context, proof *Proof) error {
			if proof.Identifier == "0xbad" {
				return fmt.Errorf("proof verification failed")
			}
			return nil
		},
	}
	g, _ := newTestGateway(t, nil, verifier)

	good := Proof{
		Identifier: "0xgood",
		ClaimData:  ClaimData{Context: claimCtx},
		Signatures: []string{"0xsig"},
		Witnesses:  []Witness{{ID: "0x1", URL: "wss://w"}},
	}
	bad := good
	bad.Identifier = "0xbad"

	body, err := json.Marshal([]Proof{bad, good})
	if err != nil {
		t.Fatalf("failed to marshal proofs: %v", err)
	}

	verified, err := g.HandleCallback(context.Background(), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(verified) != 2 {
		t.Fatalf("expected 2 results, got %d", len(verified))
	}
	if verified[0].Valid {
		t.Error("expected first proof to be invalid")
	}
	if verified[0].Error == "" {
		t.Error("invalid proof must carry an error")
	}
	if !verified[1].Valid {
		t.Error("sibling proof must still be processed after a failure")
	}
}

func TestHandleCallbackMissingSessionNonFatal(t *testing.T) {
	claimCtx := `{"contextAddress":"0xA1","extractedParameters":{"kycStatus":"PASS"}}`

	g, _ := newTestGateway(t, nil, nil)

	verified, err := g.HandleCallback(context.Background(), proofBody(t, "0xunknown", claimCtx))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verified) != 1 || !verified[0].Valid {
		t.Error("proof must be returned valid even without a matching session")
	}
}

func TestHandleCallbackSessionPing(t *testing.T) {
	tests := []struct {
		name           string
		status         string
		expectedStatus model.SessionStatus
	}{
		{
			name:           "generation_success_stays_pending",
			status:         "PROOF_GENERATION_SUCCESS",
			expectedStatus: model.SessionPending,
		},
		{
			name:           "submission_failed_moves_to_failed",
			status:         "PROOF_SUBMISSION_FAILED",
			expectedStatus: model.SessionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, store := newTestGateway(t, nil, nil)
			ctx := context.Background()

			err := store.Put(ctx, "sess-1", &model.ProofSession{
				UserID:    "user-1",
				Status:    model.SessionPending,
				CreatedAt: time.Now(),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			body := fmt.Sprintf(`{"sessionId":"sess-1","status":%q}`, tt.status)
			verified, err := g.HandleCallback(ctx, []byte(body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verified != nil {
				t.Error("session ping must not produce verified proofs")
			}

			sess, err := store.Get(ctx, "sess-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sess.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, sess.Status)
			}
		})
	}
}

func TestTerminalSessionNotOverwritten(t *testing.T) {
	claimCtx := `{"contextAddress":"0xA1","extractedParameters":{"kycStatus":"PASS"}}`

	g, store := newTestGateway(t, nil, nil)
	ctx := context.Background()

	err := store.Put(ctx, "0xproof1", &model.ProofSession{
		UserID:    "user-1",
		Status:    model.SessionFailed,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := g.HandleCallback(ctx, proofBody(t, "0xproof1", claimCtx)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, err := store.Get(ctx, "0xproof1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != model.SessionFailed {
		t.Errorf("terminal state must be final, got %s", sess.Status)
	}
}

func TestFindUserSession(t *testing.T) {
	g, _ := newTestGateway(t, nil, nil)
	ctx := context.Background()

	if _, _, err := g.FindUserSession(ctx, "user-1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := g.Initiate(ctx, "user-1", "0xA1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, sess, err := g.FindUserSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "sess-1" || sess.UserID != "user-1" {
		t.Errorf("unexpected session: id=%s %+v", id, sess)
	}
}

// индекс userId→sessionId не должен переживать истёкшую сессию
func TestFindUserSessionPrunesExpiredIndex(t *testing.T) {
	g, store := newTestGateway(t, nil, nil)
	ctx := context.Background()

	if _, err := g.Initiate(ctx, "user-1", "0xA1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := g.FindUserSession(ctx, "user-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := g.userSessions.Load("user-1"); ok {
		t.Error("expected index entry to be pruned after the session expired")
	}
}
