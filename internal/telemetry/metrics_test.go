package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMetrics_Singleton(t *testing.T) {
	first := GetMetrics()
	second := GetMetrics()

	assert.Same(t, first, second)
	assert.NotNil(t, first.AuthAttemptsTotal)
	assert.NotNil(t, first.CatalogFetchDuration)
	assert.NotNil(t, first.SessionTransitionsTotal)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{name: "keep everything", ratio: 1, expected: "AlwaysOnSampler"},
		{name: "above one", ratio: 2.5, expected: "AlwaysOnSampler"},
		{name: "disabled", ratio: 0, expected: "AlwaysOffSampler"},
		{name: "fraction", ratio: 0.25, expected: "ParentBased{root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, sampler(tt.ratio).Description(), tt.expected)
		})
	}
}
