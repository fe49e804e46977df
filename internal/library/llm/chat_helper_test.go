package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChatHelperCreateText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		var payload struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "gpt-4o-mini", payload.Model)
		require.Equal(t, []chatMessage{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "question"},
		}, payload.Messages)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" answer "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	helper := NewChatHelper(server.URL, time.Second, nil)
	text, err := helper.CreateText(context.Background(), "sk", ResponseRequest{
		Model:        "gpt-4o-mini",
		Instructions: "sys",
		Input:        "question",
	})
	require.NoError(t, err)
	require.Equal(t, "answer", text)
}

func TestChatHelperEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := NewChatHelper(server.URL, time.Second, nil).
		CreateText(context.Background(), "sk", ResponseRequest{Model: "m", Input: "x"})
	require.ErrorContains(t, err, "no choices")
}
