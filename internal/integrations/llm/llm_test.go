package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "json"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

const pageReply = `{"html":"<!doctype html><h1>Tea</h1>"}`

func writeMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
	})
}

func writeAPIError(w http.ResponseWriter, status int, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":  "error",
		"error": map[string]any{"type": kind, "message": kind},
	})
}

// fakeAPI replies with the given statuses in order, then with a page.
func fakeAPI(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		n := int(hits.Add(1))
		if n <= len(statuses) {
			writeAPIError(w, statuses[n-1], "test_error")
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		writeMessage(w, "```json\n"+pageReply+"\n```")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(url string, retries *int) *Client {
	return NewClient(Options{
		APIKey:     "sk-test",
		BaseURL:    url,
		Model:      "claude-test",
		MaxRetries: 3,
		RetryDelay: 0,
		OnRetry:    func(int, error) { *retries++ },
	})
}

func TestGenerateHTMLSuccess(t *testing.T) {
	srv, hits := fakeAPI(t)
	retries := 0

	html, err := newTestClient(srv.URL, &retries).GenerateHTML(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "<!doctype html><h1>Tea</h1>", html)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, retries)
}

func TestGenerateHTMLRetriesTransientOnce(t *testing.T) {
	srv, hits := fakeAPI(t, http.StatusTooManyRequests)
	retries := 0

	html, err := newTestClient(srv.URL, &retries).GenerateHTML(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.NotEmpty(t, html)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 1, retries)
}

func TestGenerateHTMLBadRequestIsPermanent(t *testing.T) {
	srv, hits := fakeAPI(t, http.StatusBadRequest)
	retries := 0

	_, err := newTestClient(srv.URL, &retries).GenerateHTML(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, retries)
}

func TestGenerateHTMLOtherErrorsFailImmediately(t *testing.T) {
	srv, hits := fakeAPI(t, http.StatusInternalServerError)
	retries := 0

	_, err := newTestClient(srv.URL, &retries).GenerateHTML(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, retries)
}

func TestGenerateHTMLGivesUpAfterMaxRetries(t *testing.T) {
	srv, hits := fakeAPI(t, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)
	retries := 0

	_, err := newTestClient(srv.URL, &retries).GenerateHTML(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.EqualValues(t, 4, hits.Load())
	assert.Equal(t, 3, retries)
}

func TestGenerateHTMLRetriesConnectionReset(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			// close with SO_LINGER 0 so the client sees a RST
			require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
			_ = conn.Close()
			return
		}
		writeMessage(w, pageReply)
	}))
	t.Cleanup(srv.Close)
	retries := 0

	html, err := newTestClient(srv.URL, &retries).GenerateHTML(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "<!doctype html><h1>Tea</h1>", html)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 1, retries)
}

func TestIsTransientConnectionReset(t *testing.T) {
	err := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	assert.True(t, IsTransient(fmt.Errorf("post messages: %w", err)))
	assert.False(t, IsTransient(syscall.ECONNREFUSED))
}

func TestParseHTML(t *testing.T) {
	html, err := ParseHTML(pageReply)
	require.NoError(t, err)
	assert.Equal(t, "<!doctype html><h1>Tea</h1>", html)

	_, err = ParseHTML("not json")
	require.Error(t, err)

	_, err = ParseHTML(`{"html":"  "}`)
	require.Error(t, err)
}
