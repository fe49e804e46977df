package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactMCPBody(t *testing.T) {
	body := `{"method": "tools/call", "params": {"name": "enrich_keyword",
		"arguments": {"keyword": "alpha", "api_key": "sk-1"}},
		"headers": [{"Authorization": "Bearer x"}]}`

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(redactMCPBody(body)), &out))

	params := out["params"].(map[string]any)
	args := params["arguments"].(map[string]any)
	require.Equal(t, "alpha", args["keyword"])
	require.Equal(t, redacted, args["api_key"])

	headers := out["headers"].([]any)
	require.Equal(t, redacted, headers[0].(map[string]any)["Authorization"])
}

func TestRedactMCPBodyKeepsNonJSON(t *testing.T) {
	require.Equal(t, "plain text", redactMCPBody("plain text"))
	require.Equal(t, "", redactMCPBody(""))
}
