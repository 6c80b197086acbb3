// internal/stages/ingest/models.go
package ingest

import "tpr-pipeline/internal/models"

type Input struct {
	Filename string `json:"filename"`
	Content  []byte `json:"-"`
}

type Output struct {
	Records         []models.RawTestingRecord `json:"records"`
	ReportingPeriod string                    `json:"reportingPeriod"`
	Warnings        []string                  `json:"warnings,omitempty"`
}
