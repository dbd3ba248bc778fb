package generation

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator returns deterministic replies for local runs and tests.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, upstream("mock", 0, ctx.Err())
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.UserTurn)
	if base == "" {
		return "I am listening."
	}

	reply := fmt.Sprintf("I hear you: %s", base)
	lower := strings.ToLower(base)
	if strings.Contains(lower, "anxious") || strings.Contains(lower, "worried") || strings.Contains(lower, "panic") {
		reply += "\nWould you like to try a short grounding exercise together?"
	}
	if len(req.History) > 0 {
		reply += "\nThanks for continuing where we left off."
	}
	return reply
}
