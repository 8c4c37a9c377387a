// Package rag talks to the external retrieval-augmented-generation service.
// A question is submitted once and its status is then polled until a terminal
// state is reached or the attempt budget runs out. The worst-case wait is
// PollInterval * MaxAttempts (300s with defaults); operators should treat that
// product as the single request-timeout knob.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"carbot/internal/models"
)

// Errors returned by Ask. The caller should treat any of them uniformly as
// "answer unavailable"; they differ only for logs and the ledger.
var (
	ErrSubmissionFailed = errors.New("rag: submission failed")
	ErrPollFailed       = errors.New("rag: poll failed")
	ErrRemoteFailed     = errors.New("rag: request failed remotely")
	ErrTimeout          = errors.New("rag: timed out waiting for answer")
)

// TestModeRequestID is the sentinel ledger request id used in test mode
const TestModeRequestID = "TEST_MODE"

const (
	testModeAnswer    = "test answer (the real API was not called)"
	maxStoredTextLen  = 200
	defaultInterval   = 3 * time.Second
	defaultAttempts   = 100
	httpClientTimeout = 30 * time.Second
)

// Ledger records every submitted question and its terminal outcome
type Ledger interface {
	LogRequest(ctx context.Context, userID int64, requestID, text string, status models.RequestStatus) error
	UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error
}

// Config holds the gateway configuration
type Config struct {
	APIURL       string
	APIKey       string
	PollInterval time.Duration
	MaxAttempts  int
	TestMode     bool
}

// Client is the RAG gateway client
type Client struct {
	cfg    Config
	http   *http.Client
	ledger Ledger
	logger *zap.Logger
}

// NewClient creates a gateway client. Zero PollInterval/MaxAttempts fall back
// to the defaults (3s, 100 attempts).
func NewClient(cfg Config, ledger Ledger, logger *zap.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultAttempts
	}
	logger.Info("RAG client created",
		zap.Bool("test_mode", cfg.TestMode),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Duration("effective_timeout", cfg.PollInterval*time.Duration(cfg.MaxAttempts)))
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: httpClientTimeout},
		ledger: ledger,
		logger: logger,
	}
}

type createRequestBody struct {
	Text     string `json:"text"`
	DialogID string `json:"dialog_id"`
}

type createResponseBody struct {
	ID string `json:"id"`
}

type statusResponseBody struct {
	Status       string `json:"status"`
	ResponseText string `json:"response_text"`
}

// Ask submits a question and waits for the answer. Every error return leaves
// the ledger entry (if one was created) in a terminal failed state; a nil
// error always leaves it in success.
func (c *Client) Ask(ctx context.Context, text string, userID int64, username string) (string, error) {
	c.logger.Info("sending RAG request",
		zap.Int64("user_id", userID),
		zap.String("username", username))

	if c.cfg.TestMode {
		if err := c.ledger.LogRequest(ctx, userID, TestModeRequestID, truncateText(text), models.StatusSuccess); err != nil {
			c.logger.Error("failed to record test-mode request", zap.Error(err))
		}
		return testModeAnswer, nil
	}

	requestID, err := c.createRequest(ctx, text, userID)
	if err != nil {
		c.logger.Error("failed to create RAG request",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return "", err
	}

	if err := c.ledger.LogRequest(ctx, userID, requestID, truncateText(text), models.StatusPending); err != nil {
		c.logger.Error("failed to record pending request",
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	answer, err := c.waitForAnswer(ctx, requestID)
	if err != nil {
		c.logger.Warn("no RAG answer",
			zap.Int64("user_id", userID),
			zap.String("request_id", requestID),
			zap.Error(err))
		if uerr := c.ledger.UpdateRequestStatus(ctx, requestID, models.StatusFailed); uerr != nil {
			c.logger.Error("failed to mark request failed", zap.Error(uerr))
		}
		return "", err
	}

	if err := c.ledger.UpdateRequestStatus(ctx, requestID, models.StatusSuccess); err != nil {
		c.logger.Error("failed to mark request succeeded", zap.Error(err))
	}
	c.logger.Info("RAG answer received",
		zap.Int64("user_id", userID),
		zap.String("request_id", requestID),
		zap.Int("answer_length", len(answer)))
	return answer, nil
}

// createRequest submits the question and returns the opaque request id.
// There are no retries at this stage.
func (c *Client) createRequest(ctx context.Context, text string, userID int64) (string, error) {
	body, err := json.Marshal(createRequestBody{
		Text:     text,
		DialogID: strconv.FormatInt(userID, 10),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/api/v1/request", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	req.Header.Set("ApiKey", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: unexpected status %d", ErrSubmissionFailed, resp.StatusCode)
	}

	var created createResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: response has no request id", ErrSubmissionFailed)
	}
	return created.ID, nil
}

// waitForAnswer polls the request status until it is terminal or the attempt
// budget is exhausted. Any transport or HTTP failure ends the wait immediately.
func (c *Client) waitForAnswer(ctx context.Context, requestID string) (string, error) {
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		status, err := c.fetchStatus(ctx, requestID)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case "completed":
			return status.ResponseText, nil
		case "failed":
			return "", ErrRemoteFailed
		}
		// Still processing, wait before the next attempt.

		if attempt == c.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("%w: %v", ErrPollFailed, ctx.Err())
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTimeout, c.cfg.MaxAttempts)
}

func (c *Client) fetchStatus(ctx context.Context, requestID string) (*statusResponseBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/api/v1/request/"+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}
	req.Header.Set("ApiKey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrPollFailed, resp.StatusCode)
	}

	var status statusResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}
	return &status, nil
}

// truncateText bounds the question text stored in the ledger
func truncateText(text string) string {
	runes := []rune(text)
	if len(runes) <= maxStoredTextLen {
		return text
	}
	return string(runes[:maxStoredTextLen]) + "..."
}
