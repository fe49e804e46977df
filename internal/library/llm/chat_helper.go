package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
)

// ChatHelper wraps OpenAI-compatible Chat Completions calls.
type ChatHelper struct {
	apiBase    string
	httpClient *http.Client
}

// NewChatHelper creates a Chat Completions helper.
func NewChatHelper(apiBase string, timeout time.Duration, httpClient *http.Client) *ChatHelper {
	return &ChatHelper{
		apiBase:    normalizeBase(apiBase),
		httpClient: newHTTPClient(timeout, httpClient),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// CreateText sends a chat completion with Instructions as the system message.
func (h *ChatHelper) CreateText(ctx context.Context, apiKey string, req ResponseRequest) (string, error) {
	if h == nil {
		return "", errors.New("chat helper is nil")
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("missing api key")
	}
	if err := req.validate(); err != nil {
		return "", err
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.Instructions) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Input})

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.MaxOutputTokens > 0 {
		payload["max_completion_tokens"] = req.MaxOutputTokens
	}
	if req.Temperature >= 0 {
		payload["temperature"] = req.Temperature
	}

	var decoded chatCompletionResponse
	if err := postJSON(ctx, h.httpClient, h.apiBase+"/v1/chat/completions", "chat completions", apiKey, payload, &decoded); err != nil {
		return "", err
	}

	if len(decoded.Choices) == 0 {
		return "", errors.New("chat completions returned no choices")
	}

	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", errors.Errorf("chat completions output is empty, finish_reason=%s", decoded.Choices[0].FinishReason)
	}

	return text, nil
}
