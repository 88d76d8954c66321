// Package budget sizes prompts against a model's context window using a
// character based token estimate.
package budget

import (
	"math"
	"strings"
)

// charsPerToken is deliberately low: Norwegian text with diacritics tokenises
// worse than English.
const charsPerToken = 4

// DefaultContextTokens applies to unknown models.
const DefaultContextTokens = 8192

// EstimateTokensFromChars converts a character count to a token estimate,
// rounding up. Zero or fewer characters is zero tokens.
func EstimateTokensFromChars(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	return int(math.Ceil(float64(charCount) / charsPerToken))
}

// EstimateTokens estimates the tokens in s by character count.
func EstimateTokens(s string) int {
	return EstimateTokensFromChars(len([]rune(s)))
}

// EstimatePromptTokens sums the estimates of every message part.
func EstimatePromptTokens(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += EstimateTokens(p)
	}
	return total
}

// CharsForTokens is the inverse estimate: how many characters fit in tokens.
func CharsForTokens(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return tokens * charsPerToken
}

// ModelContextTokens returns the context window for a model name. Matching is
// case-insensitive; unknown names get DefaultContextTokens unless a size
// suffix such as "-32k" says otherwise.
func ModelContextTokens(modelName string) int {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return DefaultContextTokens
	}
	if v, ok := knownModelMax[name]; ok {
		return v
	}
	for _, s := range sizeSuffixes {
		if strings.HasSuffix(name, s.suffix) {
			return s.tokens
		}
	}
	if strings.HasPrefix(name, "mistral-") || strings.HasPrefix(name, "ministral-") {
		return 32_000
	}
	return DefaultContextTokens
}

// HeadroomTokens is reserved for tokenizer error and message framing: 5% of
// the context, at least 512 tokens.
func HeadroomTokens(modelName string) int {
	n := int(math.Ceil(float64(ModelContextTokens(modelName)) * 0.05))
	if n < 512 {
		return 512
	}
	return n
}

// RemainingContext is what is left of the window after the output reservation
// and prompt. It is never negative.
func RemainingContext(modelName string, reservedForOutput, promptTokens int) int {
	if reservedForOutput < 0 {
		reservedForOutput = 0
	}
	remaining := ModelContextTokens(modelName) - reservedForOutput - promptTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingContextWithHeadroom is RemainingContext with HeadroomTokens also
// reserved.
func RemainingContextWithHeadroom(modelName string, reservedForOutput, promptTokens int) int {
	return RemainingContext(modelName, reservedForOutput+HeadroomTokens(modelName), promptTokens)
}

// FitsInContext reports whether promptTokens leave room in the window.
func FitsInContext(modelName string, reservedForOutput, promptTokens int) bool {
	return RemainingContext(modelName, reservedForOutput, promptTokens) > 0
}

var knownModelMax = map[string]int{
	"mistral-small-latest":  128_000,
	"mistral-medium-latest": 128_000,
	"mistral-large-latest":  128_000,
	"open-mistral-nemo":     128_000,
	"ministral-8b-latest":   128_000,
	"ministral-3b-latest":   128_000,
	"open-mistral-7b":       32_000,
	"gpt-4o":                128_000,
	"gpt-4o-mini":           128_000,
	"gpt-3.5-turbo":         16_384,
	"llama-3.1":             128_000,
	"llama-3":               8_192,
}

var sizeSuffixes = []struct {
	suffix string
	tokens int
}{
	{"1m", 1_000_000},
	{"200k", 200_000},
	{"128k", 128_000},
	{"32k", 32_000},
	{"16k", 16_384},
}
