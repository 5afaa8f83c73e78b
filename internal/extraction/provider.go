package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/sashabaranov/go-openai/jsonschema"
	"golang.org/x/time/rate"
)

// Provider generates a JSON document for a prompt, constrained by schema
// where the backend supports it.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, schema *jsonschema.Definition) (string, error)
}

// backend is a single AI API. complete makes exactly one request.
type backend interface {
	name() string
	complete(ctx context.Context, prompt string, schema *jsonschema.Definition) (string, error)
	transient(err error) bool
}

// client adds rate limiting and bounded retries to a backend.
type client struct {
	backend     backend
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newClient(b backend, cfg Config) *client {
	return &client{
		backend:     b,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Name implements Provider.
func (c *client) Name() string {
	return c.backend.name()
}

// Generate implements Provider. Transient failures (429, 5xx, network) are
// retried with exponential backoff up to maxRetries times.
func (c *client) Generate(ctx context.Context, prompt string, schema *jsonschema.Definition) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		out, err := c.backend.complete(ctx, prompt, schema)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", err
		}
		if !isRetryableError(err) && !c.backend.transient(err) && !isNetworkError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Close releases backend resources.
func (c *client) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// NewProvider builds the provider for one credential.
func NewProvider(cred config.Credential, cfg Config) (Provider, error) {
	if !cred.APIKey.IsSet() {
		return nil, fmt.Errorf("%s: api key required", cred.Provider)
	}

	var (
		b   backend
		err error
	)
	switch strings.ToLower(cred.Provider) {
	case "openai":
		b = newOpenAIBackend(cred, cfg, false)
	case "openrouter":
		b = newOpenAIBackend(cred, cfg, true)
	case "google":
		b, err = newGeminiBackend(cred, cfg)
	case "anthropic":
		b = newAnthropicBackend(cred, cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cred.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newClient(b, cfg), nil
}

// NewProviders builds one provider per credential, in order.
func NewProviders(creds []config.Credential, cfg Config) ([]Provider, error) {
	providers := make([]Provider, 0, len(creds))
	for i, cred := range creds {
		p, err := NewProvider(cred, cfg)
		if err != nil {
			return nil, fmt.Errorf("credential %d: %w", i, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
