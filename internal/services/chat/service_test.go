package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/models"
)

func newTestService(url string) *Service {
	return NewService(&common.ChatConfig{Endpoint: url, Model: "llama3.2", Timeout: "5s"}, arbor.NewNoOpLogger())
}

func drain(chunks <-chan models.ChatChunk) []models.ChatChunk {
	var out []models.ChatChunk
	for c := range chunks {
		out = append(out, c)
	}
	return out
}

func TestService_StreamsContentUntilDone(t *testing.T) {
	requests := make(chan chatRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`not json`,
			``,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true}`,
			`{"message":{"role":"assistant","content":"ignored"},"done":false}`,
		} {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer server.Close()

	svc := newTestService(server.URL)
	chunks, err := svc.Stream(context.Background(), []models.ChatMessage{{Role: models.ChatRoleUser, Content: "hi"}})
	require.NoError(t, err)

	got := drain(chunks)
	assert.Equal(t, []models.ChatChunk{{Content: "Hel"}, {Content: "lo"}, {Done: true}}, got)

	received := <-requests
	assert.Equal(t, "llama3.2", received.Model)
	assert.True(t, received.Stream)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "hi", received.Messages[0].Content)
}

func TestService_EndOfBodyWithoutDoneStillTerminates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"}}`)
	}))
	defer server.Close()

	chunks, err := newTestService(server.URL).Stream(context.Background(), []models.ChatMessage{{Role: models.ChatRoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, []models.ChatChunk{{Content: "partial"}, {Done: true}}, drain(chunks))
}

func TestService_ErrorLineEndsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"}}`)
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer server.Close()

	chunks, err := newTestService(server.URL).Stream(context.Background(), []models.ChatMessage{{Role: models.ChatRoleUser, Content: "x"}})
	require.NoError(t, err)

	reply, err := Collect(chunks)
	assert.EqualError(t, err, "model not found")
	assert.Equal(t, "a", reply)
}

func TestService_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestService(server.URL).Stream(context.Background(), []models.ChatMessage{{Role: models.ChatRoleUser, Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestService_RejectsEmptyConversation(t *testing.T) {
	_, err := newTestService("http://127.0.0.1:1").Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestService_UnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestService(url).Stream(context.Background(), []models.ChatMessage{{Role: models.ChatRoleUser, Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM request failed")
}

func TestCollect(t *testing.T) {
	chunks := make(chan models.ChatChunk, 3)
	chunks <- models.ChatChunk{Content: "foo"}
	chunks <- models.ChatChunk{Content: "bar"}
	chunks <- models.ChatChunk{Done: true}
	close(chunks)

	reply, err := Collect(chunks)
	require.NoError(t, err)
	assert.Equal(t, "foobar", reply)
}
