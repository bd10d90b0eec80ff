package metadata

import (
	"fmt"

	"github.com/spaghettifunk/framecore/engine/core"
)

type LightType uint8

const (
	LightTypeDirectional LightType = iota
	LightTypePoint
	LightTypeSpot
)

func (t LightType) String() string {
	switch t {
	case LightTypeDirectional:
		return "directional"
	case LightTypePoint:
		return "point"
	case LightTypeSpot:
		return "spot"
	}
	return "unknown"
}

// LightIDs hands out pass-buffer light slots: directional lights first,
// then point lights, then spot lights, each group sized by its cap.
type LightIDs struct {
	caps  [3]uint32
	count [3]uint32
}

func NewLightIDs(maxDirectional, maxPoint, maxSpot uint32) (*LightIDs, error) {
	if total := maxDirectional + maxPoint + maxSpot; total > MaxLightSources {
		return nil, fmt.Errorf("light caps add up to %d, the pass buffer holds %d", total, MaxLightSources)
	}
	return &LightIDs{caps: [3]uint32{maxDirectional, maxPoint, maxSpot}}, nil
}

// Next returns the id of the next light of type t.
func (l *LightIDs) Next(t LightType) (uint32, error) {
	if t > LightTypeSpot {
		return 0, core.AssertErr(nil, "unknown light type %d", t)
	}
	if l.count[t] >= l.caps[t] {
		return 0, core.AssertErr(nil, "too many %s lights, the cap is %d", t, l.caps[t])
	}
	var base uint32
	for i := LightTypeDirectional; i < t; i++ {
		base += l.caps[i]
	}
	id := base + l.count[t]
	l.count[t]++
	return id, nil
}

// Light is the default LightSource.
type Light struct {
	Type  LightType
	id    uint32
	Props LightProperties
}

func NewLight(ids *LightIDs, t LightType) (*Light, error) {
	id, err := ids.Next(t)
	if err != nil {
		return nil, err
	}
	return &Light{Type: t, id: id}, nil
}

func (l *Light) ID() uint32 {
	return l.id
}

func (l *Light) Properties() LightProperties {
	return l.Props
}
