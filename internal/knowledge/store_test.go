package knowledge

import "testing"

func TestClampSimilarity(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"in range", 0.73, 0.73},
		{"zero", 0, 0},
		{"one", 1, 1},
		{"float noise above one", 1.0000001, 1},
		{"opposite vectors go negative", -1, 0},
		{"slightly negative", -0.0000001, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampSimilarity(tt.in); got != tt.want {
				t.Errorf("clampSimilarity(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
