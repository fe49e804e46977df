package llm

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	errors "github.com/Laisky/errors/v2"
)

// Provider kinds accepted by NewProvider.
const (
	KindResponses = "responses"
	KindChat      = "chat"
)

// Provider turns one request into model text.
type Provider interface {
	Complete(ctx context.Context, req ResponseRequest) (string, error)
}

// textCreator is implemented by ResponsesHelper and ChatHelper.
type textCreator interface {
	CreateText(ctx context.Context, apiKey string, req ResponseRequest) (string, error)
}

// KeyedProvider binds a helper to a pool of api keys.
// Each call starts on the next key and moves on when a key is rejected.
type KeyedProvider struct {
	kind   string
	helper textCreator
	keys   []string
	next   atomic.Uint64
}

// NewProvider builds the provider of the given kind.
func NewProvider(kind, apiBase string, timeout time.Duration, httpClient *http.Client, apiKeys []string) (*KeyedProvider, error) {
	keys := make([]string, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("llm provider requires at least one api key")
	}

	p := &KeyedProvider{kind: strings.ToLower(strings.TrimSpace(kind)), keys: keys}
	switch p.kind {
	case "", KindResponses:
		p.kind = KindResponses
		p.helper = NewResponsesHelper(apiBase, timeout, httpClient)
	case KindChat:
		p.helper = NewChatHelper(apiBase, timeout, httpClient)
	default:
		return nil, errors.Errorf("unknown llm provider %q", kind)
	}

	return p, nil
}

// Kind returns responses or chat.
func (p *KeyedProvider) Kind() string {
	return p.kind
}

// Complete implements Provider.
func (p *KeyedProvider) Complete(ctx context.Context, req ResponseRequest) (string, error) {
	start := int(p.next.Add(1)-1) % len(p.keys)

	var lastErr error
	for i := 0; i < len(p.keys); i++ {
		text, err := p.helper.CreateText(ctx, p.keys[(start+i)%len(p.keys)], req)
		if err == nil {
			return text, nil
		}

		lastErr = err
		se, ok := AsStatusError(err)
		if !ok || !se.CredentialRejected() || ctx.Err() != nil {
			return "", err
		}
	}

	return "", lastErr
}
