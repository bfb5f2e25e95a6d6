package utils

import (
	"math"
	"testing"
)

func TestUnitScale(t *testing.T) {
	tests := []struct {
		name   string
		in     []float32
		want   []float32
		length float64
	}{
		{"three four", []float32{3, 4}, []float32{0.6, 0.8}, 5},
		{"already unit", []float32{0, 1, 0}, []float32{0, 1, 0}, 1},
		{"zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := append([]float32(nil), tt.in...)
			if got := UnitScale(v); math.Abs(got-tt.length) > 1e-9 {
				t.Errorf("length = %v, want %v", got, tt.length)
			}
			for i := range tt.want {
				if math.Abs(float64(v[i]-tt.want[i])) > 1e-6 {
					t.Errorf("v = %v, want %v", v, tt.want)
					break
				}
			}
		})
	}

	inf := []float32{float32(math.Inf(1)), 1}
	if got := UnitScale(inf); !math.IsInf(got, 1) || inf[1] != 1 {
		t.Errorf("non-finite input rescaled: length=%v v=%v", got, inf)
	}
}
