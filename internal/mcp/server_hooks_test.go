package mcp

import (
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func TestIsUnsupportedProbe(t *testing.T) {
	require.True(t, isUnsupportedProbe(mcp.MethodResourcesList, errors.New("request error: resources not supported")))
	require.True(t, isUnsupportedProbe(mcp.MethodPromptsList, errors.New("prompts not supported")))
	require.False(t, isUnsupportedProbe(mcp.MethodToolsList, errors.New("resources not supported")))
	require.False(t, isUnsupportedProbe(mcp.MethodResourcesList, errors.New("other failure")))
	require.False(t, isUnsupportedProbe(mcp.MethodResourcesList, nil))
}
