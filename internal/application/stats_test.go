package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{7}, 90, 7},
		{"median odd", []float64{3, 1, 2}, 50, 2},
		{"median even interpolates", []float64{4, 1, 3, 2}, 50, 2.5},
		{"p90 interpolates", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 90, 9.1},
		{"p0 is min", []float64{5, 9, 1}, 0, 1},
		{"p100 is max", []float64{5, 9, 1}, 100, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, percentile(tt.values, tt.p), 1e-9)
		})
	}
}

func TestPercentile_DoesNotReorderInput(t *testing.T) {
	values := []float64{3, 1, 2}
	_ = median(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
	assert.InDelta(t, 2.5, mean([]float64{1, 2, 3, 4}), 1e-9)
}

func TestPctChange(t *testing.T) {
	got, ok := pctChange(125, 100)
	assert.True(t, ok)
	assert.InDelta(t, 25.0, got, 1e-9)

	_, ok = pctChange(10, 0)
	assert.False(t, ok)
}
