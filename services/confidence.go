package services

import (
	"fmt"
	"math"
	"strings"
)

const (
	// UnrecognizedName is reported for faces below the scaled threshold.
	UnrecognizedName = "Persona no reconocida"
	// UnknownIdentityName is reported when a predicted label has no identity row.
	UnknownIdentityName = "Desconocido"

	DefaultReferenceDistance = 400.0
	DefaultThreshold         = 85
	DefaultRawMaxDistance    = 100.0
)

// Decision is the outcome of a policy for one predicted distance.
type Decision struct {
	Percent    int
	Recognized bool
	// Report is false when the face must be left out of the results.
	Report bool
}

// ConfidencePolicy turns an LBPH distance into a confidence decision.
type ConfidencePolicy interface {
	Name() string
	Decide(distance float64) Decision
}

// ScaledPolicy maps the distance onto a percentage of a reference distance
// and recognizes strictly above Threshold. Faces below the threshold are
// still reported.
type ScaledPolicy struct {
	ReferenceDistance float64
	Threshold         int
}

func (ScaledPolicy) Name() string { return "scaled" }

func (p ScaledPolicy) Decide(distance float64) Decision {
	ref := p.ReferenceDistance
	if ref <= 0 {
		ref = DefaultReferenceDistance
	}
	pct := int(math.Round((1 - distance/ref) * 100))
	if pct > 100 {
		pct = 100
	}
	return Decision{Percent: pct, Recognized: pct > p.Threshold, Report: true}
}

// RawPolicy accepts distances below MaxDistance and reports 100-distance as
// the percentage. Rejected faces are omitted.
type RawPolicy struct {
	MaxDistance float64
}

func (RawPolicy) Name() string { return "raw" }

func (p RawPolicy) Decide(distance float64) Decision {
	limit := p.MaxDistance
	if limit <= 0 {
		limit = DefaultRawMaxDistance
	}
	if distance >= limit {
		return Decision{}
	}
	pct := int(math.Round(100 - distance))
	if pct > 100 {
		pct = 100
	}
	return Decision{Percent: pct, Recognized: true, Report: true}
}

// PolicyByName builds the named policy. threshold and reference only apply
// to the scaled policy.
func PolicyByName(name string, threshold int, reference float64) (ConfidencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "scaled":
		return ScaledPolicy{ReferenceDistance: reference, Threshold: threshold}, nil
	case "raw":
		return RawPolicy{MaxDistance: DefaultRawMaxDistance}, nil
	default:
		return nil, fmt.Errorf("unknown confidence policy '%s'", name)
	}
}
