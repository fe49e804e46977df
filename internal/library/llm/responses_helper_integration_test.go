package llm

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestProviderCompleteWithRealAPI optionally verifies real external API connectivity.
func TestProviderCompleteWithRealAPI(t *testing.T) {
	t.Parallel()

	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	apiBase := strings.TrimSpace(os.Getenv("LLM_API_BASE"))
	kind := strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	model := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if model == "" {
		model = "o4-mini"
	}

	if apiKey == "" {
		t.Skip("skip real API test: LLM_API_KEY is not set")
	}

	p, err := NewProvider(kind, apiBase, 20*time.Second, nil, []string{apiKey})
	require.NoError(t, err)
	text, err := p.Complete(context.Background(), ResponseRequest{
		Model:           model,
		Instructions:    "Return only one short sentence.",
		Input:           "Say hello in one short sentence.",
		MaxOutputTokens: 64,
		Temperature:     -1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(text))
}
