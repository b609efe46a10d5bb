package reclaim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Proof is a verifiable claim delivered by the attestation provider.
type Proof struct {
	Identifier string    `json:"identifier"`
	ClaimData  ClaimData `json:"claimData"`
	Signatures []string  `json:"signatures"`
	Witnesses  []Witness `json:"witnesses"`
}

type ClaimData struct {
	Provider   string `json:"provider"`
	Parameters string `json:"parameters"`
	Owner      string `json:"owner"`
	Timestamp  int64  `json:"timestampS"`
	Context    string `json:"context"`
	Identifier string `json:"identifier"`
	Epoch      int    `json:"epoch"`
}

type Witness struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ProofRequest is the provider-issued attestation request the client
// renders as a scannable link.
type ProofRequest struct {
	RequestURL string `json:"requestUrl"`
	StatusURL  string `json:"statusUrl"`
	SessionID  string `json:"sessionId"`
	// Config is the serialized request the frontend SDK reconstructs
	// the session from.
	Config string `json:"reclaimProofRequestConfig"`
}

// CreateRequest carries everything the provider needs to open a session.
type CreateRequest struct {
	AppID          string `json:"applicationId"`
	ProviderID     string `json:"providerId"`
	CallbackURL    string `json:"callbackUrl"`
	ContextAddress string `json:"contextAddress,omitempty"`
	ContextMessage string `json:"contextMessage,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	Signature      string `json:"signature,omitempty"`
}

// Provider is the outbound boundary to the attestation service.
type Provider interface {
	CreateProofRequest(ctx context.Context, req CreateRequest) (*ProofRequest, error)
}

type httpProvider struct {
	apiURL    string
	appSecret string
	client    *http.Client
	logger    *zap.Logger
}

// NewHTTPProvider builds the provider client. The app secret is a hex
// secp256k1 private key; a leading 0x prefix is tolerated.
func NewHTTPProvider(apiURL, appSecret string, logger *zap.Logger) Provider {
	return &httpProvider{
		apiURL:    strings.TrimRight(apiURL, "/"),
		appSecret: strings.TrimPrefix(appSecret, "0x"),
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

// signRequest подписывает тело запроса ключом приложения
func (p *httpProvider) signRequest(body []byte) (string, error) {
	key, err := crypto.HexToECDSA(p.appSecret)
	if err != nil {
		return "", fmt.Errorf("invalid app secret: %w", err)
	}

	digest := crypto.Keccak256(body)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}

	return "0x" + fmt.Sprintf("%x", sig), nil
}

func (p *httpProvider) CreateProofRequest(ctx context.Context, req CreateRequest) (*ProofRequest, error) {
	req.Timestamp = time.Now().UnixMilli()

	unsigned, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof request: %w", err)
	}

	req.Signature, err = p.signRequest(unsigned)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/api/sdk/session/init", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		p.logger.Error("provider rejected session init",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", msg))
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var pr ProofRequest
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if pr.SessionID == "" || pr.RequestURL == "" {
		return nil, fmt.Errorf("provider response missing session id or request url")
	}

	return &pr, nil
}
