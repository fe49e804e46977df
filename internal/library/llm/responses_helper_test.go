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

// TestResponsesHelperCreateText verifies helper parses output_text and sends expected request shape.
func TestResponsesHelperCreateText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/responses", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "o4-mini", payload["model"])
		require.Equal(t, "hello", payload["input"])
		require.Equal(t, "be brief", payload["instructions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output_text":"ok"}`))
	}))
	defer server.Close()

	helper := NewResponsesHelper(server.URL, 2*time.Second, nil)
	text, err := helper.CreateText(context.Background(), "sk-test", ResponseRequest{
		Model:        "o4-mini",
		Instructions: "be brief",
		Input:        "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}

// TestResponsesHelperStatusError verifies non-2xx answers surface as StatusError.
func TestResponsesHelperStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`overloaded`))
	}))
	defer server.Close()

	helper := NewResponsesHelper(server.URL, time.Second, nil)
	_, err := helper.CreateText(context.Background(), "sk", ResponseRequest{Model: "m", Input: "x"})

	se, ok := AsStatusError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	require.Equal(t, "overloaded", se.Body)
	require.True(t, se.Temporary())
	require.False(t, se.CredentialRejected())
}

// TestResponsesHelperValidatesRequest verifies local checks run before any call.
func TestResponsesHelperValidatesRequest(t *testing.T) {
	t.Parallel()

	helper := NewResponsesHelper("", 0, nil)
	_, err := helper.CreateText(context.Background(), "", ResponseRequest{Model: "m", Input: "x"})
	require.ErrorContains(t, err, "api key")
	_, err = helper.CreateText(context.Background(), "k", ResponseRequest{Input: "x"})
	require.ErrorContains(t, err, "model")
	_, err = helper.CreateText(context.Background(), "k", ResponseRequest{Model: "m"})
	require.ErrorContains(t, err, "input")
}

// TestResponsesCreateResponseAggregatedText verifies fallback aggregation from output content.
func TestResponsesCreateResponseAggregatedText(t *testing.T) {
	t.Parallel()

	resp := responsesCreateResponse{
		Output: []responsesOutputItem{
			{
				Type: "message",
				Content: []responsesOutputContent{
					{Type: "output_text", Text: "line1"},
					{Type: "text", Text: "line2"},
				},
			},
		},
	}

	require.Equal(t, "line1\nline2", resp.AggregatedText())
}
