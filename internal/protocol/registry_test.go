package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	tests := []struct {
		name  string
		steps int
		first Phase
		last  Phase
	}{
		{"quick_check", 3, PhaseCalibration, PhaseValidation},
		{"standard", 5, PhaseCalibration, PhaseValidation},
		{"comprehensive", 7, PhaseCalibration, PhaseValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := DefaultRegistry.Lookup(tt.name)
			require.True(t, ok)
			require.Len(t, p.Steps, tt.steps)
			assert.Equal(t, tt.first, p.Steps[0].Phase)
			assert.Equal(t, tt.last, p.Steps[len(p.Steps)-1].Phase)
			for _, s := range p.Steps {
				assert.NotEmpty(t, s.Name)
				assert.Positive(t, s.Duration)
				assert.GreaterOrEqual(t, s.QualityThreshold, 0.0)
				assert.LessOrEqual(t, s.QualityThreshold, 1.0)
			}
		})
	}
	assert.Equal(t, []string{"comprehensive", "quick_check", "standard"}, DefaultRegistry.Names())
}

func TestRegistry_LookupUnknown(t *testing.T) {
	_, ok := DefaultRegistry.Lookup("marathon")
	assert.False(t, ok)
}

func TestProtocol_TotalDuration(t *testing.T) {
	p, ok := DefaultRegistry.Lookup("quick_check")
	require.True(t, ok)
	assert.Equal(t, 50*time.Second, p.TotalDuration())
}

func TestNewRegistry_LaterReplaces(t *testing.T) {
	a := Protocol{Name: "x", Steps: []Step{{Name: "one"}}}
	b := Protocol{Name: "x", Steps: []Step{{Name: "one"}, {Name: "two"}}}
	r := NewRegistry(a, b)
	p, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Len(t, p.Steps, 2)
}
