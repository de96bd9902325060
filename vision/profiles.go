package vision

import (
	"fmt"
	"image"
	"strings"
)

// Profile holds the cascade detection parameters.
type Profile struct {
	Name         string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point // zero means no size floor
}

var (
	// ProfileStandard is the default for both enrollment and recognition.
	ProfileStandard = Profile{
		Name:         "standard",
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      image.Pt(30, 30),
	}
	// ProfileLegacy is the coarser scan used by the standalone recognizer.
	ProfileLegacy = Profile{
		Name:         "legacy",
		ScaleFactor:  1.3,
		MinNeighbors: 5,
	}
)

func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProfileStandard.Name:
		return ProfileStandard, nil
	case ProfileLegacy.Name:
		return ProfileLegacy, nil
	default:
		return Profile{}, fmt.Errorf("unknown detector profile '%s'", name)
	}
}
