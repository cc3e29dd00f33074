package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dinechain/models"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transcript = []models.Turn{
	{Role: models.RoleSystem, Content: "seed"},
	{Role: models.RoleUser, Content: "I'd like Jollof Rice"},
}

func TestRespond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, "user", req.Messages[1].Role)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Sure! How many portions? "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "key", BaseURL: srv.URL + "/", Model: "test-model"})
	reply, err := c.Respond(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, "Sure! How many portions?", reply)
}

func TestRespondFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`, "overloaded"},
		{"unauthorized", http.StatusUnauthorized, `nope`, "status 401"},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrEmptyResponse.Error()},
		{"null content", http.StatusOK, `{"choices":[{"message":{"content":null}}]}`, ErrEmptyResponse.Error()},
		{"malformed", http.StatusOK, `{"choices":`, "chat completion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := NewClient(Options{BaseURL: srv.URL}).Respond(context.Background(), transcript)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRespondTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Respond(context.Background(), transcript)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
