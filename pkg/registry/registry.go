// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	stderrors "tpr-pipeline/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

var registrySchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"version", "zones"},
	"properties": map[string]interface{}{
		"version":     map[string]interface{}{"type": "string"},
		"lastUpdated": map[string]interface{}{"type": "string"},
		"zones": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"zone", "covariates"},
				"properties": map[string]interface{}{
					"zone": map[string]interface{}{"type": "string", "minLength": 1},
					"covariates": map[string]interface{}{
						"type":     "array",
						"minItems": 1,
						"items": map[string]interface{}{
							"type":     "object",
							"required": []interface{}{"name"},
							"properties": map[string]interface{}{
								"name":     map[string]interface{}{"type": "string", "minLength": 1},
								"temporal": map[string]interface{}{"type": "boolean"},
							},
						},
					},
				},
			},
		},
	},
}

// Load reads and validates a covariate registry file.
func Load(path string) (*CovariateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, stderrors.NewRegistryInvalidError("not valid JSON: " + err.Error())
	}

	schemaLoader := gojsonschema.NewGoLoader(registrySchema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("registry schema validation: %w", err)
	}
	if !result.Valid() {
		details := ""
		for _, e := range result.Errors() {
			if details != "" {
				details += "; "
			}
			details += e.String()
		}
		return nil, stderrors.NewRegistryInvalidError(details)
	}

	var reg CovariateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Default returns the built-in six-zone registry used when no registry file is
// configured. Each zone carries the six covariates relevant to its malaria
// transmission setting.
func Default() *CovariateRegistry {
	temporal := func(name string) Covariate { return Covariate{Name: name, Temporal: true} }
	static := func(name string) Covariate { return Covariate{Name: name} }

	return &CovariateRegistry{
		Version: "builtin-1",
		Zones: []ZoneProfile{
			{
				Zone: "North Central",
				Covariates: []Covariate{
					temporal("rainfall"), temporal("temperature"), temporal("evi"),
					static("elevation"), static("population_density"), static("distance_to_water"),
				},
			},
			{
				Zone: "North East",
				Covariates: []Covariate{
					temporal("rainfall"), temporal("temperature"), temporal("ndvi"),
					static("elevation"), static("population_density"), static("aridity_index"),
				},
			},
			{
				Zone: "North West",
				Covariates: []Covariate{
					temporal("rainfall"), temporal("temperature"), temporal("ndvi"),
					static("elevation"), static("population_density"), static("distance_to_water"),
				},
			},
			{
				Zone: "South East",
				Covariates: []Covariate{
					temporal("rainfall"), temporal("temperature"), temporal("evi"),
					static("elevation"), static("population_density"), static("housing_quality"),
				},
			},
			{
				Zone: "South South",
				Covariates: []Covariate{
					temporal("rainfall"), temporal("temperature"), temporal("evi"),
					static("elevation"), static("population_density"), static("flood_risk"),
				},
			},
			{
				Zone: "South West",
				Covariates: []Covariate{
					temporal("rainfall"), temporal("temperature"), temporal("evi"),
					static("elevation"), static("population_density"), static("night_lights"),
				},
			},
		},
	}
}
