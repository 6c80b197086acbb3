// internal/stages/zone/resolver.go
package zone

import (
	"strings"

	"tpr-pipeline/pkg/registry"
)

// The six geopolitical zones.
const (
	NorthCentral = "North Central"
	NorthEast    = "North East"
	NorthWest    = "North West"
	SouthEast    = "South East"
	SouthSouth   = "South South"
	SouthWest    = "South West"
)

// stateZones maps every canonical state (and the FCT) to its zone.
var stateZones = map[string]string{
	"benue": NorthCentral, "kogi": NorthCentral, "kwara": NorthCentral,
	"nasarawa": NorthCentral, "niger": NorthCentral, "plateau": NorthCentral,
	"fct": NorthCentral,

	"adamawa": NorthEast, "bauchi": NorthEast, "borno": NorthEast,
	"gombe": NorthEast, "taraba": NorthEast, "yobe": NorthEast,

	"jigawa": NorthWest, "kaduna": NorthWest, "kano": NorthWest,
	"katsina": NorthWest, "kebbi": NorthWest, "sokoto": NorthWest,
	"zamfara": NorthWest,

	"abia": SouthEast, "anambra": SouthEast, "ebonyi": SouthEast,
	"enugu": SouthEast, "imo": SouthEast,

	"akwaibom": SouthSouth, "bayelsa": SouthSouth, "crossriver": SouthSouth,
	"delta": SouthSouth, "edo": SouthSouth, "rivers": SouthSouth,

	"ekiti": SouthWest, "lagos": SouthWest, "ogun": SouthWest,
	"ondo": SouthWest, "osun": SouthWest, "oyo": SouthWest,
}

// aliases maps common variants to canonical lookup keys.
var aliases = map[string]string{
	"abuja":                   "fct",
	"federalcapitalterritory": "fct",
	"akwa-ibom":               "akwaibom",
	"cross-river":             "crossriver",
}

// canonicalNames maps lookup keys back to display names.
var canonicalNames = map[string]string{
	"fct": "FCT", "akwaibom": "Akwa Ibom", "crossriver": "Cross River",
}

// Resolver maps a region selection to its zone and covariate profile.
type Resolver struct {
	registry *registry.CovariateRegistry
}

func NewResolver(reg *registry.CovariateRegistry) *Resolver {
	return &Resolver{registry: reg}
}

// Resolve returns the canonical region name, its zone, and the zone's
// covariate profile. ok is false for unknown or misspelled regions.
func (r *Resolver) Resolve(region string) (canonical, zoneName string, profile registry.ZoneProfile, ok bool) {
	key := normalizeRegion(region)
	if alias, found := aliases[key]; found {
		key = alias
	}

	zoneName, found := stateZones[key]
	if !found {
		return "", "", registry.ZoneProfile{}, false
	}

	profile, found = r.registry.Profile(zoneName)
	if !found {
		return "", "", registry.ZoneProfile{}, false
	}

	return displayName(key), zoneName, profile, true
}

// Zones returns the fixed zone list in a stable order.
func Zones() []string {
	return []string{NorthCentral, NorthEast, NorthWest, SouthEast, SouthSouth, SouthWest}
}

func normalizeRegion(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!\"'")
	s = strings.ReplaceAll(s, " state", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func displayName(key string) string {
	if name, ok := canonicalNames[key]; ok {
		return name
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
