package eval

import (
	"math"

	"github.com/quellaran/treeopt/pkg/errors"
)

// Metric names understood by objectives.
const (
	MetricTotalDamage = "total_damage"
	MetricLife        = "life"
	MetricMana        = "mana"
	MetricEffectiveHP = "effective_hp"
)

// Metrics is the typed objective vector produced by an evaluation. The wire
// payload is a loose map; it is validated and shaped into this struct at the
// worker boundary so nothing downstream handles untyped metric maps.
type Metrics struct {
	TotalDamage float64 `json:"total_damage"`
	Life        float64 `json:"life"`
	Mana        float64 `json:"mana"`
	EffectiveHP float64 `json:"effective_hp"`

	// Extra holds metrics the calculator reports beyond the named fields.
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Value looks up a metric by name, checking named fields before Extra.
func (m Metrics) Value(name string) (float64, bool) {
	switch name {
	case MetricTotalDamage:
		return m.TotalDamage, true
	case MetricLife:
		return m.Life, true
	case MetricMana:
		return m.Mana, true
	case MetricEffectiveHP:
		return m.EffectiveHP, true
	}
	v, ok := m.Extra[name]
	return v, ok
}

func metricsFromWire(raw map[string]float64) (Metrics, error) {
	var m Metrics
	for name, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Metrics{}, errors.WithFields(
				errors.New(errors.InvalidResponse, "non-finite metric value"),
				errors.Fields{"metric": name, "value": v},
			)
		}
		switch name {
		case MetricTotalDamage:
			m.TotalDamage = v
		case MetricLife:
			m.Life = v
		case MetricMana:
			m.Mana = v
		case MetricEffectiveHP:
			m.EffectiveHP = v
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]float64)
			}
			m.Extra[name] = v
		}
	}
	return m, nil
}
