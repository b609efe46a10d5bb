package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

// Client fetches a wallet's recent onchain activities from a
// BlockVision-style indexer API.
type Client struct {
	apiURL string
	apiKey string
	limit  int
	client *http.Client
	logger *zap.Logger
}

func NewClient(apiURL, apiKey string, limit int, logger *zap.Logger) *Client {
	if limit <= 0 {
		limit = 20
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		limit:  limit,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type activitiesResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Data []struct {
			Digest      string `json:"digest"`
			Type        string `json:"type"`
			Status      string `json:"status"`
			TimestampMs int64  `json:"timestampMs"`
		} `json:"data"`
		NextPageCursor string `json:"nextPageCursor"`
	} `json:"result"`
}

// Activities returns up to the configured number of recent transactions
// for the address, following the page cursor when the first page is
// short.
func (c *Client) Activities(ctx context.Context, address string) ([]model.Transaction, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	var txs []model.Transaction
	cursor := ""

	for len(txs) < c.limit {
		page, next, err := c.fetchPage(ctx, address, cursor)
		if err != nil {
			return nil, err
		}
		txs = append(txs, page...)
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}

	if len(txs) > c.limit {
		txs = txs[:c.limit]
	}

	c.logger.Debug("activities fetched",
		zap.String("address", address),
		zap.Int("count", len(txs)))
	return txs, nil
}

func (c *Client) fetchPage(ctx context.Context, address, cursor string) ([]model.Transaction, string, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("limit", fmt.Sprintf("%d", c.limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	endpoint := fmt.Sprintf("%s/v2/sui/account/activities?%s", c.apiURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build activities request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("activities request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("activities API error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", msg))
		return nil, "", fmt.Errorf("activities API returned status %d", resp.StatusCode)
	}

	var parsed activitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", fmt.Errorf("failed to decode activities response: %w", err)
	}
	if parsed.Code != 0 && parsed.Code != http.StatusOK {
		return nil, "", fmt.Errorf("activities API error: %s", parsed.Message)
	}

	txs := make([]model.Transaction, 0, len(parsed.Result.Data))
	for _, a := range parsed.Result.Data {
		txs = append(txs, model.Transaction{
			Digest:       a.Digest,
			ActivityType: a.Type,
			Status:       a.Status,
			Timestamp:    a.TimestampMs,
		})
	}
	return txs, parsed.Result.NextPageCursor, nil
}
