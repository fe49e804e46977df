package mcp

import (
	"encoding/json"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are object keys whose values never reach the logs.
var secretKeys = []string{"authorization", "api_key", "apikey", "token", "secret", "password"}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// redactMCPBody redacts credential fields from a JSON payload.
// Bodies that are not JSON are returned as is.
func redactMCPBody(raw string) string {
	if raw == "" {
		return raw
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	out, err := json.Marshal(redactMCPValue(payload))
	if err != nil {
		return raw
	}
	return string(out)
}

// redactMCPValue recursively redacts nested payloads.
func redactMCPValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		output := make(map[string]any, len(v))
		for key, item := range v {
			if isSecretKey(key) {
				output[key] = redacted
				continue
			}
			output[key] = redactMCPValue(item)
		}
		return output
	case []any:
		result := make([]any, 0, len(v))
		for _, item := range v {
			result = append(result, redactMCPValue(item))
		}
		return result
	default:
		return value
	}
}

// redactHookPayload renders a redacted JSON string for hook logging.
func redactHookPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return redactMCPBody(string(data))
}
