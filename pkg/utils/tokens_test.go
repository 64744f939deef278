package utils

import "testing"

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty: got %d, want 0", got)
	}
	if got := EstimateTokens("hello"); got < 1 {
		t.Errorf("hello: got %d, want at least 1", got)
	}
	short := EstimateTokens("hello world")
	long := EstimateTokens("hello world, this sentence is considerably longer than the first one")
	if long <= short {
		t.Errorf("longer text should have more tokens: %d <= %d", long, short)
	}
}

func TestEstimateTokensList(t *testing.T) {
	if got := EstimateTokensList(nil); got != 5 {
		t.Errorf("empty list: got %d, want 5", got)
	}
	texts := []string{"alpha", "beta gamma"}
	want := 5 + 3 + EstimateTokens("alpha") + 3 + EstimateTokens("beta gamma")
	if got := EstimateTokensList(texts); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}
