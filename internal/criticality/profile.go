// File: internal/criticality/profile.go

// Package criticality resolves how much a JSON path or operation tag matters
// to playback quality. Weights live in profiles: YAML-loadable tables of path
// globs and tag names, each mapping to a weight in [0,1].
package criticality

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FallbackDefaultWeight applies when a profile omits its default weight.
const FallbackDefaultWeight = 0.35

var profileValidate *validator.Validate

func init() {
	profileValidate = validator.New()
}

// Profile is a weight table for one service domain. PathWeights keys are
// either exact paths or single-star globs: a trailing "*" matches any path
// with the given literal prefix, a leading "*" matches any path with the
// given literal suffix.
type Profile struct {
	Name          string             `yaml:"name" validate:"required"`
	PathWeights   map[string]float64 `yaml:"path_weights" validate:"dive,gte=0,lte=1"`
	TagWeights    map[string]float64 `yaml:"tag_weights" validate:"dive,gte=0,lte=1"`
	DefaultWeight float64            `yaml:"default_weight" validate:"gte=0,lte=1"`
}

// Validate checks that every weight is inside [0,1] and the profile is named.
func (p *Profile) Validate() error {
	if err := profileValidate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("profile field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("profile validation: %w", err)
	}
	return nil
}

// LoadProfile reads a YAML profile from disk. A zero default_weight falls
// back to FallbackDefaultWeight.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading criticality profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing criticality profile: %w", err)
	}
	if p.DefaultWeight == 0 {
		p.DefaultWeight = FallbackDefaultWeight
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultStreamingProfile returns the built-in weight table for streaming
// media control planes. Playback, DRM, and entitlement surfaces carry the
// highest weights; telemetry and health surfaces the lowest.
func DefaultStreamingProfile() *Profile {
	return &Profile{
		Name:          "streaming-default",
		DefaultWeight: FallbackDefaultWeight,
		TagWeights: map[string]float64{
			"playback":       1.00,
			"drm":            0.95,
			"entitlement":    0.95,
			"manifest":       0.95,
			"license":        0.90,
			"ads":            0.85,
			"advertisement":  0.85,
			"auth":           0.80,
			"authentication": 0.80,
			"authorization":  0.80,
			"billing":        0.75,
			"subscription":   0.75,
			"user":           0.70,
			"profile":        0.60,
			"search":         0.55,
			"recommendation": 0.50,
			"metadata":       0.40,
			"catalog":        0.40,
			"analytics":      0.30,
			"telemetry":      0.25,
			"logging":        0.20,
			"health":         0.10,
			"status":         0.10,
		},
		PathWeights: map[string]float64{
			"*.manifestUrl":    1.00,
			"*.playbackUrl":    1.00,
			"*.licenseUrl":     1.00,
			"*.drmUrl":         0.95,
			"*.allowed":        0.95,
			"*.entitled":       0.95,
			"*.granted":        0.95,
			"*.accessToken":    0.90,
			"*.maxBitrateKbps": 0.80,
			"*.maxBitrate":     0.80,
			"*.quality":        0.75,
			"*.resolution":     0.70,
			"*.adUrl":          0.85,
			"*.prerollUrl":     0.80,
			"$.playback.*":     0.95,
			"$.drm.*":          0.95,
			"$.entitlement.*":  0.95,
			"$.ads.*":          0.85,
			"$.auth.*":         0.80,
			"$.metadata.*":     0.40,
			"$.analytics.*":    0.30,
		},
	}
}
