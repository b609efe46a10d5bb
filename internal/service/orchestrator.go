package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"humanproof_gateway/internal/messaging"
	"humanproof_gateway/internal/model"
	"humanproof_gateway/internal/repository"
	"humanproof_gateway/internal/sealing"
)

// ErrInvalidSignature — подпись не парсится или восстановленный адрес
// не совпадает с привязываемым
var ErrInvalidSignature = errors.New("invalid signature")

// Analyzer computes the onchain analysis of a wallet.
type Analyzer interface {
	Analyze(ctx context.Context, address string) (*model.AnalysisResult, error)
}

// BlobStore publishes an opaque blob and returns its content id.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (string, error)
}

type Orchestrator interface {
	RecordVerification(ctx context.Context, v *model.Verification) (*model.Verification, error)
	BindAddress(ctx context.Context, b *model.AddressBinding) (*model.AddressBinding, error)
	RunAnalysis(ctx context.Context, walletAddress string) (*model.AnalysisResult, error)
	SubmitEvidence(ctx context.Context, walletAddress string) (*model.WalrusUpload, error)
	Status(ctx context.Context, walletAddress string) (*model.UserStatus, error)
}

type orchestrator struct {
	users         repository.UserRepository
	verifications repository.VerificationRepository
	bindings      repository.BindingRepository
	analyses      repository.AnalysisRepository
	uploads       repository.WalrusRepository
	analyzer      Analyzer
	blobs         BlobStore
	nats          messaging.NATSClient
	logger        *zap.Logger
}

func NewOrchestrator(
	users repository.UserRepository,
	verifications repository.VerificationRepository,
	bindings repository.BindingRepository,
	analyses repository.AnalysisRepository,
	uploads repository.WalrusRepository,
	analyzer Analyzer,
	blobs BlobStore,
	nats messaging.NATSClient,
	logger *zap.Logger,
) Orchestrator {
	return &orchestrator{
		users:         users,
		verifications: verifications,
		bindings:      bindings,
		analyses:      analyses,
		uploads:       uploads,
		analyzer:      analyzer,
		blobs:         blobs,
		nats:          nats,
		logger:        logger,
	}
}

func (s *orchestrator) RecordVerification(ctx context.Context, v *model.Verification) (*model.Verification, error) {
	if v.WalletAddress == "" {
		return nil, fmt.Errorf("wallet address cannot be empty")
	}
	if v.CexType == "" {
		return nil, fmt.Errorf("cex type cannot be empty")
	}
	if len(v.Proofs) == 0 {
		return nil, fmt.Errorf("proofs cannot be empty")
	}

	saved, err := s.verifications.Save(ctx, v)
	if err != nil {
		return nil, err
	}

	if s.nats != nil && saved.SessionID != nil {
		sess := &model.ProofSession{
			UserID:      saved.UserID,
			UserAddress: saved.WalletAddress,
			Status:      model.SessionVerified,
		}
		if err := s.nats.PublishAttestationVerified(ctx, *saved.SessionID, sess); err != nil {
			s.logger.Warn("failed to publish attestation event", zap.Error(err))
		}
	}

	s.logger.Info("verification recorded",
		zap.String("wallet", v.WalletAddress),
		zap.String("cex_type", v.CexType))
	return saved, nil
}

// BindAddress verifies the personal-sign signature before persisting:
// the recovered signer must be the wallet being bound.
func (s *orchestrator) BindAddress(ctx context.Context, b *model.AddressBinding) (*model.AddressBinding, error) {
	if b.Address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if b.CexType == "" {
		return nil, fmt.Errorf("cex type cannot be empty")
	}
	if b.Signature == "" || b.Message == "" {
		return nil, fmt.Errorf("signature and message are required")
	}

	signer, err := recoverSigner(b.Message, b.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !strings.EqualFold(signer.Hex(), b.Address) {
		s.logger.Warn("binding signature mismatch",
			zap.String("address", b.Address),
			zap.String("recovered", signer.Hex()))
		return nil, fmt.Errorf("%w: signature does not match address", ErrInvalidSignature)
	}

	return s.bindings.Save(ctx, b)
}

func (s *orchestrator) RunAnalysis(ctx context.Context, walletAddress string) (*model.AnalysisResult, error) {
	if walletAddress == "" {
		return nil, fmt.Errorf("wallet address cannot be empty")
	}

	// предварительная проверка; гонку закрывает Save
	allowed, err := s.users.CanPerformAction(ctx, walletAddress, model.ActionAnalysis)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &repository.AlreadyCompletedError{Action: model.ActionAnalysis}
	}

	result, err := s.analyzer.Analyze(ctx, walletAddress)
	if err != nil {
		s.logger.Error("analysis failed", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to analyze wallet: %w", err)
	}

	saved, err := s.analyses.Save(ctx, result)
	if err != nil {
		return nil, err
	}

	if s.nats != nil {
		if err := s.nats.PublishAnalysisCompleted(ctx, saved); err != nil {
			s.logger.Warn("failed to publish analysis event", zap.Error(err))
		}
	}

	s.logger.Info("analysis completed",
		zap.String("wallet", walletAddress),
		zap.Int("human_score", saved.HumanScore))
	return saved, nil
}

// SubmitEvidence assembles the wallet's records into a bundle, encrypts
// it and publishes the ciphertext. The duplicate check runs before any
// encryption or publishing happens.
func (s *orchestrator) SubmitEvidence(ctx context.Context, walletAddress string) (*model.WalrusUpload, error) {
	if walletAddress == "" {
		return nil, fmt.Errorf("wallet address cannot be empty")
	}

	allowed, err := s.users.CanPerformAction(ctx, walletAddress, model.ActionWalrus)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &repository.AlreadyCompletedError{Action: model.ActionWalrus}
	}

	analysis, err := s.analyses.Get(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, fmt.Errorf("no analysis result for wallet %s", walletAddress)
	}

	verifications, err := s.verifications.GetAll(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	bindings, err := s.bindings.GetAll(ctx, walletAddress)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	bundle := model.EvidenceBundle{
		WalletAddress: walletAddress,
		OnchainScore: model.OnchainScore{
			HumanScore:             analysis.HumanScore,
			SuccessRate:            analysis.SuccessRate,
			TotalTransactions:      analysis.TotalTransactions,
			SuccessfulTransactions: analysis.SuccessfulTransactions,
			FailedTransactions:     analysis.FailedTransactions,
		},
		Timestamp:   now.UnixMilli(),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	if analysis.AIAnalysis != nil {
		bundle.OnchainScore.AIAnalysis = *analysis.AIAnalysis
	}
	if len(verifications) > 0 {
		bundle.Verification = verifications[0]
	}
	if len(bindings) > 0 {
		bundle.AddressBinding = bindings[0]
	}

	encrypted, err := sealing.Encrypt(bundle, walletAddress)
	if err != nil {
		s.logger.Error("failed to encrypt evidence", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to encrypt evidence: %w", err)
	}

	blobID, err := s.blobs.Store(ctx, encrypted)
	if err != nil {
		s.logger.Error("failed to publish evidence", zap.Error(err), zap.String("wallet", walletAddress))
		return nil, fmt.Errorf("failed to publish evidence: %w", err)
	}

	upload := &model.WalrusUpload{
		WalletAddress: walletAddress,
		BlobID:        blobID,
		Meta:          &model.UploadMeta{Size: len(encrypted)},
	}

	saved, err := s.uploads.Save(ctx, upload)
	if err != nil {
		var dup *repository.AlreadyCompletedError
		if errors.As(err, &dup) {
			// параллельная заявка успела первой; блоб уже опубликован,
			// но записью владеет она
			s.logger.Warn("concurrent evidence submission lost the race",
				zap.String("wallet", walletAddress),
				zap.String("orphan_blob_id", blobID))
		}
		return nil, err
	}

	s.logger.Info("evidence published",
		zap.String("wallet", walletAddress),
		zap.String("blob_id", blobID),
		zap.Int("encrypted_size", len(encrypted)))
	return saved, nil
}

func (s *orchestrator) Status(ctx context.Context, walletAddress string) (*model.UserStatus, error) {
	if walletAddress == "" {
		return nil, fmt.Errorf("wallet address cannot be empty")
	}

	user, err := s.users.Get(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	status := &model.UserStatus{User: user}

	verifications, err := s.verifications.GetAll(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if len(verifications) > 0 {
		status.Verification = verifications[0]
	}

	bindings, err := s.bindings.GetAll(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if len(bindings) > 0 {
		status.Binding = bindings[0]
	}

	if status.Analysis, err = s.analyses.Get(ctx, walletAddress); err != nil {
		return nil, err
	}
	if status.Upload, err = s.uploads.GetByWallet(ctx, walletAddress); err != nil {
		return nil, err
	}

	return status, nil
}

// recoverSigner recovers the address that personal-signed message.
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// MetaMask выдаёт v как 27/28
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
