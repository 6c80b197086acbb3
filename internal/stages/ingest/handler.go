// internal/stages/ingest/handler.go
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"tpr-pipeline/internal/common/logger"
	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/models"

	"github.com/xuri/excelize/v2"
)

const TaskType = "parse-dataset"

var (
	ErrUnsupportedFormat = errors.New("UNSUPPORTED_FORMAT")
	ErrEmptyDataset      = errors.New("EMPTY_DATASET")
)

// requiredColumns is the canonical schema of the raw testing dataset, after
// header normalization (lower case, spaces and dashes to underscores).
var requiredColumns = []string{
	"facility_id", "facility_name", "state", "lga", "ward",
	"facility_level", "urban", "outpatient_attendance", "period",
	"rdt_tested_u5", "rdt_positive_u5", "micro_tested_u5", "micro_positive_u5",
	"rdt_tested_5_14", "rdt_positive_5_14", "micro_tested_5_14", "micro_positive_5_14",
	"rdt_tested_15_plus", "rdt_positive_15_plus", "micro_tested_15_plus", "micro_positive_15_plus",
}

type Handler struct {
	config *Config
	logger logger.Logger
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		logger: log.With(map[string]interface{}{"taskType": TaskType}),
	}
}

// Execute parses a raw tabular dataset into canonical RawTestingRecord rows.
// Schema problems (missing or malformed columns) are fatal and enumerated in
// a single DATA_VALIDATION_FAILED error; individual bad rows are skipped with
// a recorded warning.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := h.readRows(input)
	if err != nil {
		// Format problems are correctable by the uploader, so they surface as
		// validation failures rather than internal errors.
		if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrEmptyDataset) {
			return nil, stderrors.NewDataValidationError([]string{err.Error()})
		}
		return nil, err
	}
	if len(rows) < 2 {
		return nil, stderrors.NewDataValidationError([]string{"dataset has no data rows"})
	}

	header := rows[0]
	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[normalizeHeader(name)] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			missing = append(missing, "missing column: "+col)
		}
	}
	if len(missing) > 0 {
		return nil, stderrors.NewDataValidationError(missing)
	}

	out := &Output{}
	periods := map[string]int{}
	for rowNum, row := range rows[1:] {
		if h.config.MaxRows > 0 && len(out.Records) >= h.config.MaxRows {
			out.Warnings = append(out.Warnings, fmt.Sprintf("dataset truncated at %d rows", h.config.MaxRows))
			break
		}

		rec, problems := parseRow(row, colIndex)
		if len(problems) > 0 {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("row %d skipped: %s", rowNum+2, strings.Join(problems, ", ")))
			continue
		}
		periods[rec.Period]++
		out.Records = append(out.Records, rec)
	}

	if len(out.Records) == 0 {
		return nil, stderrors.NewDataValidationError(append([]string{"no parseable data rows"}, out.Warnings...))
	}

	out.ReportingPeriod = dominantPeriod(periods)

	h.logger.Info("dataset parsed", map[string]interface{}{
		"filename":        input.Filename,
		"records":         len(out.Records),
		"skipped":         len(out.Warnings),
		"reportingPeriod": out.ReportingPeriod,
	})

	return out, nil
}

func (h *Handler) readRows(input *Input) ([][]string, error) {
	name := strings.ToLower(input.Filename)
	switch {
	case strings.HasSuffix(name, ".csv"):
		return readCSV(input.Content)
	case strings.HasSuffix(name, ".xlsx"):
		return readXLSX(input.Content)
	default:
		return nil, fmt.Errorf("%w: %s (expected .csv or .xlsx)", ErrUnsupportedFormat, input.Filename)
	}
}

func readCSV(content []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stderrors.NewDataValidationError([]string{"malformed CSV: " + err.Error()})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, stderrors.NewDataValidationError([]string{"malformed XLSX: " + err.Error()})
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrEmptyDataset)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, stderrors.NewDataValidationError([]string{"unreadable sheet: " + err.Error()})
	}
	return rows, nil
}

func parseRow(row []string, colIndex map[string]int) (models.RawTestingRecord, []string) {
	var problems []string

	cell := func(col string) string {
		i := colIndex[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	num := func(col string) int {
		v := cell(col)
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			problems = append(problems, "bad value for "+col)
			return 0
		}
		return n
	}

	rec := models.RawTestingRecord{
		FacilityID:   cell("facility_id"),
		FacilityName: cell("facility_name"),
		State:        cell("state"),
		LGA:          cell("lga"),
		Ward:         cell("ward"),
		Period:       cell("period"),
	}
	if rec.FacilityID == "" {
		problems = append(problems, "empty facility_id")
	}
	if rec.Ward == "" {
		problems = append(problems, "empty ward")
	}

	level, ok := models.ParseFacilityLevel(cell("facility_level"))
	if !ok {
		problems = append(problems, "bad value for facility_level")
	}
	rec.Level = level

	urban, ok := parseUrban(cell("urban"))
	if !ok {
		problems = append(problems, "bad value for urban")
	}
	rec.Urban = urban

	rec.OutpatientAttendance = num("outpatient_attendance")
	rec.U5 = models.AgeBandCounts{
		RDTTested:          num("rdt_tested_u5"),
		RDTPositive:        num("rdt_positive_u5"),
		MicroscopyTested:   num("micro_tested_u5"),
		MicroscopyPositive: num("micro_positive_u5"),
	}
	rec.Age5To14 = models.AgeBandCounts{
		RDTTested:          num("rdt_tested_5_14"),
		RDTPositive:        num("rdt_positive_5_14"),
		MicroscopyTested:   num("micro_tested_5_14"),
		MicroscopyPositive: num("micro_positive_5_14"),
	}
	rec.Age15Plus = models.AgeBandCounts{
		RDTTested:          num("rdt_tested_15_plus"),
		RDTPositive:        num("rdt_positive_15_plus"),
		MicroscopyTested:   num("micro_tested_15_plus"),
		MicroscopyPositive: num("micro_positive_15_plus"),
	}

	return rec, problems
}

func parseUrban(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "urban", "true", "yes", "y", "1":
		return true, true
	case "rural", "false", "no", "n", "0", "":
		return false, true
	}
	return false, false
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// dominantPeriod picks the most common period; ties resolve to the earliest.
func dominantPeriod(periods map[string]int) string {
	keys := make([]string, 0, len(periods))
	for k := range periods {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestCount := "", -1
	for _, k := range keys {
		if periods[k] > bestCount {
			best, bestCount = k, periods[k]
		}
	}
	return best
}
