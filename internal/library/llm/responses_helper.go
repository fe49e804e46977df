package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
)

const (
	defaultAPIBase = "https://api.openai.com"
	defaultTimeout = 8 * time.Second
	errorBodyLimit = 512
)

// StatusError reports a non-2xx answer from an LLM endpoint.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s endpoint status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// CredentialRejected reports whether another api key may succeed.
func (e *StatusError) CredentialRejected() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden ||
		e.StatusCode == http.StatusPaymentRequired ||
		e.StatusCode == http.StatusTooManyRequests
}

// AsStatusError extracts a StatusError from err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ResponsesHelper wraps OpenAI-compatible Responses API calls.
type ResponsesHelper struct {
	apiBase    string
	httpClient *http.Client
}

// ResponseRequest describes one generation request.
type ResponseRequest struct {
	Model           string
	Instructions    string
	Input           string
	PromptCacheKey  string
	MaxOutputTokens int
	Temperature     float64
}

func (r ResponseRequest) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("missing model")
	}
	if strings.TrimSpace(r.Input) == "" {
		return errors.New("missing input")
	}
	return nil
}

// NewResponsesHelper creates a Responses API helper with safe defaults.
func NewResponsesHelper(apiBase string, timeout time.Duration, httpClient *http.Client) *ResponsesHelper {
	return &ResponsesHelper{
		apiBase:    normalizeBase(apiBase),
		httpClient: newHTTPClient(timeout, httpClient),
	}
}

func normalizeBase(apiBase string) string {
	trimmedBase := strings.TrimSpace(apiBase)
	if trimmedBase == "" {
		trimmedBase = defaultAPIBase
	}
	return strings.TrimRight(trimmedBase, "/")
}

func newHTTPClient(timeout time.Duration, httpClient *http.Client) *http.Client {
	if httpClient != nil {
		return httpClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// CreateText sends a Responses API request and returns aggregated text output.
func (h *ResponsesHelper) CreateText(ctx context.Context, apiKey string, req ResponseRequest) (string, error) {
	if h == nil {
		return "", errors.New("responses helper is nil")
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("missing api key")
	}
	if err := req.validate(); err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": req.Model,
		"input": req.Input,
	}
	if strings.TrimSpace(req.Instructions) != "" {
		payload["instructions"] = req.Instructions
	}
	if strings.TrimSpace(req.PromptCacheKey) != "" {
		payload["prompt_cache_key"] = req.PromptCacheKey
	}
	if req.MaxOutputTokens > 0 {
		payload["max_output_tokens"] = req.MaxOutputTokens
	}
	if req.Temperature >= 0 {
		payload["temperature"] = req.Temperature
	}

	var decoded responsesCreateResponse
	if err := postJSON(ctx, h.httpClient, h.apiBase+"/v1/responses", "responses", apiKey, payload, &decoded); err != nil {
		return "", err
	}

	text := strings.TrimSpace(decoded.OutputText)
	if text != "" {
		return text, nil
	}

	text = strings.TrimSpace(decoded.AggregatedText())
	if text == "" {
		return "", errors.New("responses output text is empty")
	}

	return text, nil
}

// postJSON posts payload with bearer auth and decodes a 2xx answer into out.
func postJSON(ctx context.Context, client *http.Client, url, endpoint, apiKey string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s request", endpoint)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "call %s endpoint", endpoint)
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", endpoint)
	}

	return nil
}

type responsesCreateResponse struct {
	OutputText string                `json:"output_text"`
	Output     []responsesOutputItem `json:"output"`
}

func (r responsesCreateResponse) AggregatedText() string {
	parts := make([]string, 0, len(r.Output))
	for _, item := range r.Output {
		for _, content := range item.Content {
			if strings.EqualFold(content.Type, "output_text") || strings.EqualFold(content.Type, "text") {
				if text := strings.TrimSpace(content.Text); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}

	return strings.Join(parts, "\n")
}

type responsesOutputItem struct {
	Type    string                   `json:"type"`
	Content []responsesOutputContent `json:"content"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
