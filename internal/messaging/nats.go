package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

type NATSClient interface {
	PublishAttestationVerified(ctx context.Context, sessionID string, session *model.ProofSession) error
	PublishAnalysisCompleted(ctx context.Context, result *model.AnalysisResult) error
	SubscribeToAttestationVerified(ctx context.Context, handler func(*AttestationVerifiedMessage)) error
	Close()
}

type natsClient struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSClient(url string, logger *zap.Logger) (NATSClient, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return &natsClient{
		conn:   conn,
		logger: logger,
	}, nil
}

type AttestationVerifiedMessage struct {
	SessionID     string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
}

type AnalysisCompletedMessage struct {
	WalletAddress string  `json:"wallet_address"`
	HumanScore    int     `json:"human_score"`
	SuccessRate   float64 `json:"success_rate"`
}

func (c *natsClient) PublishAttestationVerified(ctx context.Context, sessionID string, session *model.ProofSession) error {
	msg := AttestationVerifiedMessage{
		SessionID:     sessionID,
		UserID:        session.UserID,
		WalletAddress: session.UserAddress,
		VerifiedAt:    session.VerifiedAt,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal attestation event", zap.Error(err))
		return fmt.Errorf("failed to marshal attestation event: %w", err)
	}

	err = c.conn.Publish("attestation.verified", data)
	if err != nil {
		c.logger.Error("failed to publish attestation event", zap.Error(err), zap.String("session_id", sessionID))
		return fmt.Errorf("failed to publish attestation event: %w", err)
	}

	c.logger.Info("attestation event published", zap.String("session_id", sessionID))
	return nil
}

func (c *natsClient) PublishAnalysisCompleted(ctx context.Context, result *model.AnalysisResult) error {
	msg := AnalysisCompletedMessage{
		WalletAddress: result.WalletAddress,
		HumanScore:    result.HumanScore,
		SuccessRate:   result.SuccessRate,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal analysis event", zap.Error(err))
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}

	err = c.conn.Publish("analysis.completed", data)
	if err != nil {
		c.logger.Error("failed to publish analysis event", zap.Error(err), zap.String("wallet", result.WalletAddress))
		return fmt.Errorf("failed to publish analysis event: %w", err)
	}

	c.logger.Info("analysis event published", zap.String("wallet", result.WalletAddress))
	return nil
}

func (c *natsClient) SubscribeToAttestationVerified(ctx context.Context, handler func(*AttestationVerifiedMessage)) error {
	_, err := c.conn.Subscribe("attestation.verified", func(msg *nats.Msg) {
		var event AttestationVerifiedMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Error("failed to unmarshal attestation event", zap.Error(err))
			return
		}

		handler(&event)
		c.logger.Info("attestation event processed", zap.String("session_id", event.SessionID), zap.String("user_id", event.UserID))
	})

	if err != nil {
		c.logger.Error("failed to subscribe to attestation events", zap.Error(err))
		return fmt.Errorf("failed to subscribe to attestation events: %w", err)
	}

	c.logger.Info("subscribed to attestation events")
	return nil
}

func (c *natsClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("NATS connection closed")
	}
}
