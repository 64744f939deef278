package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v", x)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should be unchanged, got %v", zero)
	}
}

func TestSigmoid(t *testing.T) {
	if Sigmoid(0) != 0.5 {
		t.Errorf("Sigmoid(0) = %v", Sigmoid(0))
	}
	if Sigmoid(10) <= Sigmoid(1) {
		t.Error("sigmoid should be increasing")
	}
	if s := Sigmoid(-20); s <= 0 || s >= 0.01 {
		t.Errorf("Sigmoid(-20) = %v", s)
	}
}

func TestNormalizeL2_nonFinite(t *testing.T) {
	x := []float32{float32(math.Inf(1)), 1}
	NormalizeL2(x)
	if !math.IsInf(float64(x[0]), 1) || x[1] != 1 {
		t.Errorf("non-finite vector should be unchanged, got %v", x)
	}
}
