package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/pkg/retrier"
	"go.uber.org/zap"
)

func newTestLLM(url string) *OpenAICompatibleClient {
	c := NewOpenAICompatibleClient(LLMConfig{APIURL: url, APIKey: "k", Model: "m", Timeout: time.Second}, zap.NewNop())
	c.retrier = retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Millisecond))
	return c
}

func TestComplete_ReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "sys", req.Messages[0].Content)
		assert.Equal(t, "hello", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"EXECUTE\nSIP_AMOUNT: 100"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestLLM(srv.URL).Complete(context.Background(), "sys", "hello")
	require.NoError(t, err)
	assert.Equal(t, "EXECUTE\nSIP_AMOUNT: 100", out)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"WAIT"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestLLM(srv.URL).Complete(context.Background(), "sys", "hello")
	require.NoError(t, err)
	assert.Equal(t, "WAIT", out)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestComplete_DoesNotRetryAuthErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	_, err := newTestLLM(srv.URL).Complete(context.Background(), "sys", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestComplete_EmptyKey(t *testing.T) {
	c := NewOpenAICompatibleClient(LLMConfig{APIURL: "http://127.0.0.1:0"}, nil)
	_, err := c.Complete(context.Background(), "s", "p")
	assert.Error(t, err)
}
