package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/pkg/adapters/openai"
	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newStubServer(t *testing.T, status int, reply string, capture *chatRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 9, "total_tokens": 49},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_Complete(t *testing.T) {
	var captured chatRequest
	server := newStubServer(t, http.StatusOK, "We have three oak tables in stock.", &captured)
	client := openai.New("test-key", openai.WithBaseURL(server.URL+"/v1"))

	completion, err := client.Complete(context.Background(), ports.CompletionRequest{
		System:  "You are a sales assistant.",
		Summary: "Customer is shopping for a dining set.",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Text: "hi"},
			{Role: domain.RoleAssistant, Text: "hello!"},
		},
		Prompt: "Customer message: any oak tables?",
	})
	require.NoError(t, err)

	assert.Equal(t, "We have three oak tables in stock.", completion.Text)
	assert.Equal(t, 40, completion.PromptTokens)
	assert.Equal(t, 9, completion.CompletionTokens)

	// system, summary note, two history messages, prompt
	require.Len(t, captured.Messages, 5)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[1].Content, "dining set")
	assert.Equal(t, "assistant", captured.Messages[3].Role)
	assert.Equal(t, "user", captured.Messages[4].Role)
}

func TestClient_RateLimitIsTransient(t *testing.T) {
	server := newStubServer(t, http.StatusTooManyRequests, "", nil)
	client := openai.New("test-key", openai.WithBaseURL(server.URL+"/v1"))

	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, domain.ErrModelTransient)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	server := newStubServer(t, http.StatusBadGateway, "", nil)
	client := openai.New("test-key", openai.WithBaseURL(server.URL+"/v1"))

	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, domain.ErrModelTransient)
}

func TestClient_RequestErrorIsFatal(t *testing.T) {
	server := newStubServer(t, http.StatusBadRequest, "", nil)
	client := openai.New("test-key", openai.WithBaseURL(server.URL+"/v1"))

	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, domain.ErrModelFatal)
}
