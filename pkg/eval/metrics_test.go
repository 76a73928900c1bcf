package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellaran/treeopt/pkg/errors"
)

func TestMetricsFromWire(t *testing.T) {
	m, err := metricsFromWire(map[string]float64{
		"total_damage": 1234.5,
		"life":         5600,
		"crit_chance":  0.45,
	})
	require.NoError(t, err)

	assert.Equal(t, 1234.5, m.TotalDamage)
	assert.Equal(t, 5600.0, m.Life)
	assert.Equal(t, map[string]float64{"crit_chance": 0.45}, m.Extra)

	v, ok := m.Value("crit_chance")
	assert.True(t, ok)
	assert.Equal(t, 0.45, v)

	_, ok = m.Value("unknown")
	assert.False(t, ok)
}

func TestMetricsFromWireRejectsNonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := metricsFromWire(map[string]float64{"total_damage": bad})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.InvalidResponse))
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	_, err := decodeResponse([]byte("not json"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidResponse))
}
