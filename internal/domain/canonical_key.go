package domain

import (
	"sort"
	"strings"
)

// Canonical dimension names. These are the only names that reach the signature codec.
const (
	DimensionSetting     = "setting"
	DimensionPrimaryFear = "primary_fear"
	DimensionAntagonist  = "antagonist"
	DimensionMechanism   = "mechanism"
	DimensionTwist       = "twist"
)

// dimensionAliases maps every accepted spelling of a dimension to its canonical name.
var dimensionAliases = map[string]string{
	DimensionSetting:       DimensionSetting,
	"setting_archetype":    DimensionSetting,
	DimensionPrimaryFear:   DimensionPrimaryFear,
	"fear":                 DimensionPrimaryFear,
	"primary_fear_type":    DimensionPrimaryFear,
	DimensionAntagonist:    DimensionAntagonist,
	"antagonist_archetype": DimensionAntagonist,
	DimensionMechanism:     DimensionMechanism,
	"threat_mechanism":     DimensionMechanism,
	"mechanism_type":       DimensionMechanism,
	DimensionTwist:         DimensionTwist,
	"twist_type":           DimensionTwist,
	"twist_archetype":      DimensionTwist,
}

// CanonicalKey is the structural fingerprint of an artifact's thematic identity.
// A zero-value field means the dimension was not provided.
type CanonicalKey struct {
	Setting     string `json:"setting" yaml:"setting"`
	PrimaryFear string `json:"primary_fear" yaml:"primary_fear"`
	Antagonist  string `json:"antagonist" yaml:"antagonist"`
	Mechanism   string `json:"mechanism" yaml:"mechanism"`
	Twist       string `json:"twist" yaml:"twist"`
}

// ResolveDimension returns the canonical name for a dimension alias.
// The lookup ignores case and surrounding whitespace.
func ResolveDimension(name string) (string, bool) {
	canonical, ok := dimensionAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// CanonicalKeyFromMap builds a CanonicalKey from a loosely-typed mapping.
// Aliases collapse onto their canonical dimension and unknown dimensions are dropped.
// When several spellings of one dimension are present the canonical name wins,
// then the lexicographically smallest alias, so the result never depends on map order.
func CanonicalKeyFromMap(m map[string]string) CanonicalKey {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var key CanonicalKey
	chosen := make(map[string]string, len(names))
	for _, name := range names {
		canonical, ok := ResolveDimension(name)
		if !ok {
			continue
		}
		isCanonical := strings.ToLower(strings.TrimSpace(name)) == canonical
		if prev, seen := chosen[canonical]; seen && (prev == canonical || !isCanonical) {
			continue
		}
		if isCanonical {
			chosen[canonical] = canonical
		} else {
			chosen[canonical] = name
		}
		key.set(canonical, m[name])
	}
	return key
}

// Dimensions returns the key as a canonical-name mapping with every dimension present.
func (k CanonicalKey) Dimensions() map[string]string {
	return map[string]string{
		DimensionSetting:     strings.TrimSpace(k.Setting),
		DimensionPrimaryFear: strings.TrimSpace(k.PrimaryFear),
		DimensionAntagonist:  strings.TrimSpace(k.Antagonist),
		DimensionMechanism:   strings.TrimSpace(k.Mechanism),
		DimensionTwist:       strings.TrimSpace(k.Twist),
	}
}

// IsEmpty reports whether no dimension carries a value.
func (k CanonicalKey) IsEmpty() bool {
	for _, v := range k.Dimensions() {
		if v != "" {
			return false
		}
	}
	return true
}

func (k *CanonicalKey) set(canonical, value string) {
	switch canonical {
	case DimensionSetting:
		k.Setting = value
	case DimensionPrimaryFear:
		k.PrimaryFear = value
	case DimensionAntagonist:
		k.Antagonist = value
	case DimensionMechanism:
		k.Mechanism = value
	case DimensionTwist:
		k.Twist = value
	}
}
