package model

import (
	"fmt"
	"math"
)

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}

func errUnsupportedFloatWidth(n int) error {
	return fmt.Errorf("float decoder supports 2 or 4 registers, got %d", n)
}
