package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbot/internal/models"
	"carbot/internal/storage/stubs"
)

func newTestClient(t *testing.T, serverURL string, maxAttempts int) (*Client, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	c := NewClient(Config{
		APIURL:       serverURL,
		APIKey:       "test-key",
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	}, db, zap.NewNop())
	return c, db
}

func TestAsk_TestMode(t *testing.T) {
	db := stubs.NewMockDB()
	c := NewClient(Config{TestMode: true}, db, zap.NewNop())

	answer, err := c.Ask(context.Background(), "how do I check oil?", 42, "driver")
	require.NoError(t, err)
	assert.Equal(t, testModeAnswer, answer)

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, TestModeRequestID, requests[0].RequestID)
	assert.Equal(t, models.StatusSuccess, requests[0].Status)
	assert.Equal(t, int64(42), requests[0].UserID)
}

func TestAsk_SubmitsQuestionWithCredentials(t *testing.T) {
	var gotPath, gotKey string
	var gotBody createRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("ApiKey")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		json.NewEncoder(w).Encode(statusResponseBody{Status: "completed", ResponseText: "check the dipstick"})
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 5)

	answer, err := c.Ask(context.Background(), "how do I check oil?", 42, "driver")
	require.NoError(t, err)
	assert.Equal(t, "check the dipstick", answer)

	assert.Equal(t, "/api/v1/request", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "how do I check oil?", gotBody.Text)
	assert.Equal(t, "42", gotBody.DialogID)

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "req-1", requests[0].RequestID)
	assert.Equal(t, models.StatusSuccess, requests[0].Status)
}

func TestAsk_SubmissionFailureLeavesNoLedgerEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 5)

	_, err := c.Ask(context.Background(), "question", 42, "driver")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmissionFailed))

	// Nothing was accepted by the remote, so nothing is recorded.
	assert.Empty(t, db.Requests())
}

func TestAsk_AnswerAfterSeveralPolls(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(statusResponseBody{Status: "processing"})
			return
		}
		json.NewEncoder(w).Encode(statusResponseBody{Status: "completed", ResponseText: "OK"})
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 10)

	answer, err := c.Ask(context.Background(), "question", 42, "driver")
	require.NoError(t, err)
	assert.Equal(t, "OK", answer)
	assert.Equal(t, int32(3), polls.Load())

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, models.StatusSuccess, requests[0].Status)
}

func TestAsk_RemoteFailureMarksLedgerFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		json.NewEncoder(w).Encode(statusResponseBody{Status: "failed"})
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 5)

	_, err := c.Ask(context.Background(), "question", 42, "driver")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteFailed))

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, models.StatusFailed, requests[0].Status)
}

func TestAsk_PollErrorEndsWaitImmediately(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		polls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 10)

	_, err := c.Ask(context.Background(), "question", 42, "driver")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollFailed))
	assert.Equal(t, int32(1), polls.Load(), "a poll failure should not be retried")

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, models.StatusFailed, requests[0].Status)
}

func TestAsk_TimeoutAfterAttemptBudget(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		polls.Add(1)
		json.NewEncoder(w).Encode(statusResponseBody{Status: "processing"})
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 3)

	_, err := c.Ask(context.Background(), "question", 42, "driver")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, int32(3), polls.Load(), "exactly MaxAttempts polls are made")

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, models.StatusFailed, requests[0].Status)
}

func TestAsk_ContextCanceledDuringWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		json.NewEncoder(w).Encode(statusResponseBody{Status: "processing"})
	}))
	defer server.Close()

	db := stubs.NewMockDB()
	c := NewClient(Config{
		APIURL:       server.URL,
		APIKey:       "test-key",
		PollInterval: time.Minute,
		MaxAttempts:  100,
	}, db, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Ask(ctx, "question", 42, "driver")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollFailed))
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation must not wait out the poll interval")

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, models.StatusFailed, requests[0].Status)
}

func TestAsk_SubmitResponseWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 5)

	_, err := c.Ask(context.Background(), "question", 42, "driver")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmissionFailed))
	assert.Empty(t, db.Requests())
}

func TestAsk_StoresTruncatedQuestionText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(createResponseBody{ID: "req-1"})
			return
		}
		json.NewEncoder(w).Encode(statusResponseBody{Status: "completed", ResponseText: "OK"})
	}))
	defer server.Close()

	c, db := newTestClient(t, server.URL, 5)

	long := strings.Repeat("x", 500)
	_, err := c.Ask(context.Background(), long, 42, "driver")
	require.NoError(t, err)

	requests := db.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, strings.Repeat("x", 200)+"...", requests[0].Text)
}

func TestTruncateText(t *testing.T) {
	short := "short question"
	assert.Equal(t, short, truncateText(short))

	exact := strings.Repeat("a", 200)
	assert.Equal(t, exact, truncateText(exact))

	long := strings.Repeat("a", 201)
	assert.Equal(t, strings.Repeat("a", 200)+"...", truncateText(long))

	// Truncation counts runes, not bytes.
	cyrillic := strings.Repeat("ж", 250)
	assert.Equal(t, strings.Repeat("ж", 200)+"...", truncateText(cyrillic))
}
