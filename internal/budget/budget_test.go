package budget

import "testing"

func TestEstimateTokensFromChars(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 0},
		{-3, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{8000, 2000},
	}
	for _, c := range cases {
		if got := EstimateTokensFromChars(c.in); got != c.want {
			t.Fatalf("EstimateTokensFromChars(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEstimateTokens_CountsRunes(t *testing.T) {
	// 8 runes, 11 bytes
	if got := EstimateTokens("Brønnøy!"); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
}

func TestEstimatePromptTokens(t *testing.T) {
	// "system"=2, "user message"=3, "abc"=1
	if got := EstimatePromptTokens("system", "user message", "abc"); got != 6 {
		t.Fatalf("EstimatePromptTokens = %d, want 6", got)
	}
}

func TestModelContextTokens(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"", DefaultContextTokens},
		{"mistral-small-latest", 128_000},
		{"MISTRAL-SMALL-LATEST", 128_000},
		{"mistral-tiny-2312", 32_000},
		{"local-model-32k", 32_000},
		{"mystery", DefaultContextTokens},
	}
	for _, c := range cases {
		if got := ModelContextTokens(c.model); got != c.want {
			t.Errorf("ModelContextTokens(%q) = %d, want %d", c.model, got, c.want)
		}
	}
}

func TestHeadroomTokens(t *testing.T) {
	if HeadroomTokens("") != 512 {
		t.Fatalf("small windows should floor to 512")
	}
	if HeadroomTokens("mistral-small-latest") != 6400 {
		t.Fatalf("expected 5%% of 128000")
	}
}

func TestRemaining(t *testing.T) {
	model := "mistral-small-latest"
	max := ModelContextTokens(model)
	if rem := RemainingContext(model, 1, max); rem != 0 {
		t.Fatalf("remaining should clamp at 0, got %d", rem)
	}
	if FitsInContext(model, 1, max) {
		t.Fatalf("overflowing prompt should not fit")
	}
	head := HeadroomTokens(model)
	if rem := RemainingContextWithHeadroom(model, 500, max-head-1000); rem != 500 {
		t.Fatalf("RemainingContextWithHeadroom = %d, want 500", rem)
	}
}

func TestCharsForTokens(t *testing.T) {
	if CharsForTokens(0) != 0 || CharsForTokens(100) != 400 {
		t.Fatalf("unexpected CharsForTokens")
	}
}
