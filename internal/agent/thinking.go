package agent

import "context"

// ThinkingLevel configures the reasoning/thinking depth for supported models.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingMax     ThinkingLevel = "max"
)

// ThinkingBudgets maps thinking levels to token budgets passed through to the
// provider's CompletionRequest.ThinkingBudgetTokens.
var ThinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1024,
	ThinkingLow:     4096,
	ThinkingMedium:  16384,
	ThinkingHigh:    65536,
	ThinkingMax:     100000,
}

// GetThinkingBudget returns the token budget for a thinking level, or 0 if
// the level is unrecognized.
func GetThinkingBudget(level ThinkingLevel) int {
	if budget, ok := ThinkingBudgets[level]; ok {
		return budget
	}
	return 0
}

// APIKeyResolver resolves API keys dynamically for each LLM call. Useful for
// short-lived OAuth tokens that may expire during a long-running autonomous
// session.
type APIKeyResolver func(ctx context.Context) (string, error)

type apiKeyResolverKey struct{}

// WithAPIKeyResolver stores an API key resolver on the context for the
// executor to consult before starting a stream.
func WithAPIKeyResolver(ctx context.Context, resolver APIKeyResolver) context.Context {
	return context.WithValue(ctx, apiKeyResolverKey{}, resolver)
}

// APIKeyResolverFromContext retrieves the API key resolver from context, if any.
func APIKeyResolverFromContext(ctx context.Context) APIKeyResolver {
	resolver, _ := ctx.Value(apiKeyResolverKey{}).(APIKeyResolver)
	return resolver
}
