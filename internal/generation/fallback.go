package generation

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator tries primary first and secondary on failure.
type FallbackGenerator struct {
	primary   Generator
	secondary Generator
}

func NewFallbackGenerator(primary, secondary Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, secondary: secondary}
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.secondary != nil {
			return g.secondary.Generate(ctx, req)
		}
		return Response{}, upstream("fallback", 0, errors.New("fallback generator misconfigured"))
	}

	resp, err := g.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	// A cancelled or expired turn must not spend more time on the secondary.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Response{}, upstream("fallback", 0, err)
	}
	if g.secondary == nil {
		return Response{}, upstream("fallback", 0, err)
	}

	fallbackResp, fallbackErr := g.secondary.Generate(ctx, req)
	if fallbackErr != nil {
		return Response{}, upstream("fallback", 0, fmt.Errorf("primary: %w; secondary: %v", err, fallbackErr))
	}
	return fallbackResp, nil
}
