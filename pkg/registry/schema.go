// pkg/registry/schema.go
package registry

// Covariate names one raster layer of a zone profile. Temporal covariates are
// published per period; static ones have a single layer.
type Covariate struct {
	Name     string `json:"name"`
	Temporal bool   `json:"temporal"`
}

// ZoneProfile is the fixed covariate list for one geopolitical zone.
type ZoneProfile struct {
	Zone       string      `json:"zone"`
	Covariates []Covariate `json:"covariates"`
}

// CovariateRegistry maps the six geopolitical zones to their raster covariate
// sets. Read-only reference data.
type CovariateRegistry struct {
	Version     string        `json:"version"`
	LastUpdated string        `json:"lastUpdated"`
	Zones       []ZoneProfile `json:"zones"`
}

// Profile returns the profile for a zone, or false when the zone is unknown.
func (r *CovariateRegistry) Profile(zone string) (ZoneProfile, bool) {
	for _, p := range r.Zones {
		if p.Zone == zone {
			return p, true
		}
	}
	return ZoneProfile{}, false
}
