package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

// ErrUnavailable — сервис генерации комментария не настроен или не
// ответил; вызывающий обязан поглотить эту ошибку fallback-текстом
var ErrUnavailable = errors.New("narrative service unavailable")

const promptTemplate = `You are analyzing onchain wallet activity for human-likeness.
Statistics: %d total transactions, %d successful, %d failed, success rate %.2f%%.
Recent transaction digests: %s.
In two sentences, comment on whether this pattern looks like organic human use.`

// Client is a best-effort chat-completion client. It never has to
// succeed: any failure maps to ErrUnavailable and the caller falls back
// to rule-based text.
type Client struct {
	apiURL  string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

func NewClient(apiURL, apiKey, modelName string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiURL:  strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Narrate(ctx context.Context, stats model.TransactionStats, txs []model.Transaction) (string, error) {
	if c.apiURL == "" || c.apiKey == "" {
		return "", ErrUnavailable
	}

	digests := make([]string, 0, len(txs))
	for _, tx := range txs {
		digests = append(digests, fmt.Sprintf("%s(%s)", tx.Digest, tx.Status))
	}
	prompt := fmt.Sprintf(promptTemplate,
		stats.Total, stats.Successful, stats.Failed, stats.SuccessRate,
		strings.Join(digests, ", "))

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
