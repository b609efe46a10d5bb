package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
	"humanproof_gateway/internal/reclaim"
	"humanproof_gateway/internal/repository"
	"humanproof_gateway/internal/service"
	"humanproof_gateway/internal/session"
)

// AttestationGateway is the attestation flow as the handlers see it.
type AttestationGateway interface {
	Initiate(ctx context.Context, userID, userAddress string) (*reclaim.ProofRequest, error)
	HandleCallback(ctx context.Context, body []byte) ([]model.VerifiedProof, error)
	SessionStatus(ctx context.Context, sessionID string) (*model.ProofSession, error)
	FindUserSession(ctx context.Context, userID string) (string, *model.ProofSession, error)
}

// BlobReader retrieves a published blob by its content id.
type BlobReader interface {
	Read(ctx context.Context, blobID string) ([]byte, error)
}

// APIHandlers exposes the REST handlers of the gateway.
type APIHandlers struct {
	logger        *zap.Logger
	gateway       AttestationGateway
	orchestrator  service.Orchestrator
	verifications repository.VerificationRepository
	bindings      repository.BindingRepository
	analyses      repository.AnalysisRepository
	uploads       repository.WalrusRepository
	blobs         BlobReader
}

func NewAPIHandlers(
	logger *zap.Logger,
	gateway AttestationGateway,
	orchestrator service.Orchestrator,
	verifications repository.VerificationRepository,
	bindings repository.BindingRepository,
	analyses repository.AnalysisRepository,
	uploads repository.WalrusRepository,
	blobs BlobReader,
) *APIHandlers {
	return &APIHandlers{
		logger:        logger,
		gateway:       gateway,
		orchestrator:  orchestrator,
		verifications: verifications,
		bindings:      bindings,
		analyses:      analyses,
		uploads:       uploads,
		blobs:         blobs,
	}
}

func (h *APIHandlers) handleReclaimInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	address := r.URL.Query().Get("userAddress")
	if address == "" {
		address = r.URL.Query().Get("address")
	}

	req, err := h.gateway.Initiate(r.Context(), userID, address)
	if err != nil {
		var initErr *reclaim.InitError
		if errors.As(err, &initErr) {
			h.logger.Error("attestation init failed", zap.Error(err), zap.String("user_id", userID))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    req,
	})
}

func (h *APIHandlers) handleReclaimCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	proofs, err := h.gateway.HandleCallback(r.Context(), body)
	if err != nil {
		h.logger.Warn("callback rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// ping сессии проофов не несёт
	if proofs == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Session updated",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"verifiedProofs": proofs,
	})
}

func (h *APIHandlers) handleReclaimStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reclaim/status/"), "/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	sess, err := h.gateway.SessionStatus(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to get session status", zap.Error(err), zap.String("session_id", sessionID))
		writeError(w, http.StatusInternalServerError, "failed to get session status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": sess,
	})
}

// handleVerifyKYC reports the current state of the user's session.
// Ожидание VERIFIED — забота клиента (reclaim.PollStatus), не сервера.
func (h *APIHandlers) handleVerifyKYC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/verify-kyc/"), "/")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	sessionID, sess, err := h.gateway.FindUserSession(r.Context(), userID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no attestation session for user")
			return
		}
		h.logger.Error("failed to find user session", zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError, "failed to find user session")
		return
	}

	if sess.Status != model.SessionVerified {
		respondJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"verified":  false,
			"status":    sess.Status,
			"sessionId": sessionID,
			"message":   "KYC verification not completed",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"verified":  true,
		"status":    sess.Status,
		"sessionId": sessionID,
		"kycData":   sess.KYCData,
	})
}

func (h *APIHandlers) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	status, err := h.orchestrator.Status(r.Context(), wallet)
	if err != nil {
		h.logger.Error("failed to get user status", zap.Error(err), zap.String("wallet", wallet))
		writeError(w, http.StatusInternalServerError, "failed to get user status")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (h *APIHandlers) handleVerification(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.saveVerification(w, r)
	case http.MethodGet:
		h.getVerification(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *APIHandlers) saveVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string          `json:"walletAddress"`
		CexType       string          `json:"cexType"`
		UserID        string          `json:"userId"`
		Proofs        json.RawMessage `json:"proofs"`
		SessionID     *string         `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WalletAddress == "" || req.CexType == "" || len(req.Proofs) == 0 {
		writeError(w, http.StatusBadRequest, "walletAddress, cexType and proofs are required")
		return
	}

	saved, err := h.orchestrator.RecordVerification(r.Context(), &model.Verification{
		WalletAddress: req.WalletAddress,
		CexType:       req.CexType,
		UserID:        req.UserID,
		Proofs:        req.Proofs,
		SessionID:     req.SessionID,
	})
	if err != nil {
		var dup *repository.AlreadyCompletedError
		if errors.As(err, &dup) {
			writeConflict(w, dup.Error())
			return
		}
		h.logger.Error("failed to record verification", zap.Error(err), zap.String("wallet", req.WalletAddress))
		writeError(w, http.StatusInternalServerError, "failed to record verification")
		return
	}

	respondJSON(w, http.StatusOK, saved)
}

func (h *APIHandlers) getVerification(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	if cexType := r.URL.Query().Get("cexType"); cexType != "" {
		v, err := h.verifications.GetByCex(r.Context(), wallet, cexType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get verification")
			return
		}
		if v == nil {
			writeError(w, http.StatusNotFound, "verification not found")
			return
		}
		respondJSON(w, http.StatusOK, v)
		return
	}

	all, err := h.verifications.GetAll(r.Context(), wallet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get verifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"verifications": all})
}

func (h *APIHandlers) handleBinding(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.saveBinding(w, r)
	case http.MethodGet:
		h.getBinding(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *APIHandlers) saveBinding(w http.ResponseWriter, r *http.Request) {
	var req model.AddressBinding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, err := h.orchestrator.BindAddress(r.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.Contains(err.Error(), "required") || strings.Contains(err.Error(), "empty") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to bind address", zap.Error(err), zap.String("address", req.Address))
		writeError(w, http.StatusInternalServerError, "failed to bind address")
		return
	}

	respondJSON(w, http.StatusOK, saved)
}

func (h *APIHandlers) getBinding(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if cexType := r.URL.Query().Get("cexType"); cexType != "" {
		b, err := h.bindings.Get(r.Context(), address, cexType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get binding")
			return
		}
		if b == nil {
			writeError(w, http.StatusNotFound, "binding not found")
			return
		}
		respondJSON(w, http.StatusOK, b)
		return
	}

	all, err := h.bindings.GetAll(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get bindings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bindings": all})
}

func (h *APIHandlers) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.saveAnalysis(w, r)
	case http.MethodGet:
		h.getAnalysis(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// saveAnalysis stores an externally computed result as-is; the guarded
// server-side path is handleAnalyze.
func (h *APIHandlers) saveAnalysis(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisResult
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	saved, err := h.analyses.Save(r.Context(), &req)
	if err != nil {
		var dup *repository.AlreadyCompletedError
		if errors.As(err, &dup) {
			writeConflict(w, dup.Error())
			return
		}
		h.logger.Error("failed to save analysis", zap.Error(err), zap.String("wallet", req.WalletAddress))
		writeError(w, http.StatusInternalServerError, "failed to save analysis")
		return
	}

	respondJSON(w, http.StatusOK, saved)
}

func (h *APIHandlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	a, err := h.analyses.Get(r.Context(), wallet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *APIHandlers) handleWalrus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.saveWalrus(w, r)
	case http.MethodGet:
		h.getWalrus(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *APIHandlers) saveWalrus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		BlobID        string `json:"blobId"`
		EncryptedSize *int   `json:"encryptedSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WalletAddress == "" || req.BlobID == "" {
		writeError(w, http.StatusBadRequest, "walletAddress and blobId are required")
		return
	}

	upload := &model.WalrusUpload{
		WalletAddress: req.WalletAddress,
		BlobID:        req.BlobID,
	}
	if req.EncryptedSize != nil {
		upload.Meta = &model.UploadMeta{Size: *req.EncryptedSize}
	}

	saved, err := h.uploads.Save(r.Context(), upload)
	if err != nil {
		var dup *repository.AlreadyCompletedError
		if errors.As(err, &dup) {
			writeConflict(w, dup.Error())
			return
		}
		h.logger.Error("failed to save walrus upload", zap.Error(err), zap.String("wallet", req.WalletAddress))
		writeError(w, http.StatusInternalServerError, "failed to save walrus upload")
		return
	}

	respondJSON(w, http.StatusOK, saved)
}

func (h *APIHandlers) getWalrus(w http.ResponseWriter, r *http.Request) {
	var upload *model.WalrusUpload
	var err error

	switch {
	case r.URL.Query().Get("walletAddress") != "":
		upload, err = h.uploads.GetByWallet(r.Context(), r.URL.Query().Get("walletAddress"))
	case r.URL.Query().Get("blobId") != "":
		upload, err = h.uploads.GetByBlobID(r.Context(), r.URL.Query().Get("blobId"))
	default:
		writeError(w, http.StatusBadRequest, "walletAddress or blobId is required")
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get walrus upload")
		return
	}
	if upload == nil {
		writeError(w, http.StatusNotFound, "walrus upload not found")
		return
	}
	respondJSON(w, http.StatusOK, upload)
}

func (h *APIHandlers) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	result, err := h.orchestrator.RunAnalysis(r.Context(), req.WalletAddress)
	if err != nil {
		var dup *repository.AlreadyCompletedError
		if errors.As(err, &dup) {
			writeConflict(w, dup.Error())
			return
		}
		h.logger.Error("analysis failed", zap.Error(err), zap.String("wallet", req.WalletAddress))
		writeError(w, http.StatusInternalServerError, "failed to analyze wallet")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *APIHandlers) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	upload, err := h.orchestrator.SubmitEvidence(r.Context(), req.WalletAddress)
	if err != nil {
		var dup *repository.AlreadyCompletedError
		if errors.As(err, &dup) {
			writeConflict(w, dup.Error())
			return
		}
		h.logger.Error("evidence submission failed", zap.Error(err), zap.String("wallet", req.WalletAddress))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, upload)
}

// handleEvidenceBlob отдаёт зашифрованный блоб как есть; расшифровка — на стороне клиента.
func (h *APIHandlers) handleEvidenceBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	blobID := strings.TrimPrefix(r.URL.Path, "/api/evidence/")
	if blobID == "" {
		writeError(w, http.StatusBadRequest, "blobId is required")
		return
	}

	data, err := h.blobs.Read(r.Context(), blobID)
	if err != nil {
		h.logger.Error("blob read failed", zap.Error(err), zap.String("blob_id", blobID))
		writeError(w, http.StatusBadGateway, "failed to read blob")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write blob response", zap.Error(err))
	}
}
