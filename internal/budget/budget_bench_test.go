package budget

import (
	"fmt"
	"strings"
	"testing"
)

func BenchmarkEstimateTokens(b *testing.B) {
	for _, n := range []int{500, 2000, 8000} {
		text := strings.Repeat("ø", n)
		b.Run(fmt.Sprintf("runes=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = EstimateTokens(text)
			}
		})
	}
}

func BenchmarkRemainingContextWithHeadroom(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = RemainingContextWithHeadroom("mistral-small-latest", 4096, 2500)
	}
}
