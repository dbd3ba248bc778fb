package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one prior conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized input to a language model.
type Request struct {
	SystemPrompt string    `json:"system_prompt"`
	History      []Message `json:"history,omitempty"`
	UserTurn     string    `json:"user_turn"`
}

// Response is the final generated reply.
type Response struct {
	Text string `json:"text"`
}

// Generator produces a reply for one turn. Implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// UpstreamError is any failure of the language model call, including timeouts.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s generation failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the call hit its deadline.
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func upstream(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Provider: provider, StatusCode: status, Err: err}
}

// Config controls generator construction.
type Config struct {
	Mode             string
	HTTPURL          string
	HTTPStreamStrict bool
	AnthropicAPIKey  string
	AnthropicModel   string
	MaxTokens        int64
}

// NewGenerator builds the generator for cfg.Mode (auto, mock, http, anthropic).
func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoGenerator(cfg), nil
	case "mock":
		return NewMockGenerator(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("generation HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.HTTPStreamStrict), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for anthropic mode")
		}
		return NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported generation mode %q", cfg.Mode)
	}
}

// newAutoGenerator prefers Anthropic, then HTTP, with the mock as last resort.
func newAutoGenerator(cfg Config) Generator {
	var chain []Generator
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		chain = append(chain, NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens))
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		chain = append(chain, NewHTTPGenerator(cfg.HTTPURL, cfg.HTTPStreamStrict))
	}
	switch len(chain) {
	case 0:
		return NewMockGenerator()
	case 1:
		return chain[0]
	default:
		return NewFallbackGenerator(chain[0], chain[1])
	}
}
