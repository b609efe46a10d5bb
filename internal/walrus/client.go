package walrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PublishError — блоб не удалось сохранить или в ответе хранилища не
// нашёлся идентификатор
type PublishError struct {
	err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("failed to publish blob: %v", e.err) }
func (e *PublishError) Unwrap() error { return e.err }

// Client talks to a Walrus publisher/aggregator pair. Stored bytes are
// addressed by the blob id the store assigns.
type Client struct {
	publisherURL  string
	aggregatorURL string
	epochs        int
	client        *http.Client
	logger        *zap.Logger
}

func NewClient(publisherURL, aggregatorURL string, epochs int, logger *zap.Logger) *Client {
	if epochs <= 0 {
		epochs = 5
	}
	return &Client{
		publisherURL:  strings.TrimRight(publisherURL, "/"),
		aggregatorURL: strings.TrimRight(aggregatorURL, "/"),
		epochs:        epochs,
		client:        &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
	}
}

type blobObject struct {
	BlobID string `json:"blobId"`
}

// storeResponse covers the store's possible shapes: a fresh write
// (newlyCreated), a deduplicated hit (alreadyCertified), or a bare
// blobId. Both nesting variants of the blob id occur in the wild.
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject *blobObject `json:"blobObject"`
		BlobID     string      `json:"blobId"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobObject *blobObject `json:"blobObject"`
		BlobID     string      `json:"blobId"`
	} `json:"alreadyCertified"`
	BlobID string `json:"blobId"`
}

func (r *storeResponse) blobID() string {
	if r.NewlyCreated != nil {
		if r.NewlyCreated.BlobObject != nil && r.NewlyCreated.BlobObject.BlobID != "" {
			return r.NewlyCreated.BlobObject.BlobID
		}
		if r.NewlyCreated.BlobID != "" {
			return r.NewlyCreated.BlobID
		}
	}
	if r.AlreadyCertified != nil {
		if r.AlreadyCertified.BlobObject != nil && r.AlreadyCertified.BlobObject.BlobID != "" {
			return r.AlreadyCertified.BlobObject.BlobID
		}
		if r.AlreadyCertified.BlobID != "" {
			return r.AlreadyCertified.BlobID
		}
	}
	return r.BlobID
}

// Store uploads the raw bytes for the configured number of retention
// epochs and returns the content identifier. A deduplicated hit
// resolves to the same identifier as a fresh write.
func (c *Client) Store(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &PublishError{err: fmt.Errorf("empty blob")}
	}

	endpoint := fmt.Sprintf("%s/v1/blobs?epochs=%d", c.publisherURL, c.epochs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", &PublishError{err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &PublishError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("walrus upload rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", msg))
		return "", &PublishError{err: fmt.Errorf("store returned status %d", resp.StatusCode)}
	}

	var parsed storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &PublishError{err: fmt.Errorf("failed to decode store response: %w", err)}
	}

	blobID := parsed.blobID()
	if blobID == "" {
		c.logger.Error("unexpected walrus response format")
		return "", &PublishError{err: fmt.Errorf("could not extract blob id from store response")}
	}

	c.logger.Info("blob published",
		zap.String("blob_id", blobID),
		zap.Int("size", len(data)))
	return blobID, nil
}

// Read retrieves a blob by its identifier from the aggregator.
func (c *Client) Read(ctx context.Context, blobID string) ([]byte, error) {
	if blobID == "" {
		return nil, fmt.Errorf("blob id cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.aggregatorURL+"/v1/"+blobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build read request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob read returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// BlobInfo holds existence metadata without fetching the bytes.
type BlobInfo struct {
	Exists bool
	Size   int64
}

func (c *Client) Info(ctx context.Context, blobID string) (*BlobInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.aggregatorURL+"/v1/"+blobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build head request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check blob: %w", err)
	}
	defer resp.Body.Close()

	return &BlobInfo{
		Exists: resp.StatusCode == http.StatusOK,
		Size:   resp.ContentLength,
	}, nil
}
