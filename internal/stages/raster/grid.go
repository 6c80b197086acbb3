// internal/stages/raster/grid.go
package raster

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Grid is an in-memory raster layer parsed from an ESRI ASCII grid file.
// Values are row-major with row 0 at the northern edge, as stored on disk.
// Loaded grids are read-only and safe for concurrent use.
type Grid struct {
	NCols    int
	NRows    int
	XLL      float64 // west edge
	YLL      float64 // south edge
	CellSize float64
	NoData   float64
	Values   []float64
}

// LoadGrid reads an ASCII grid file from disk.
func LoadGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseGrid(bufio.NewScanner(f))
}

func parseGrid(scanner *bufio.Scanner) (*Grid, error) {
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	g := &Grid{NoData: -9999}
	headerFields := 0

	// Header lines: key value pairs until the first all-numeric row.
	var firstDataLine string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		key := strings.ToLower(fields[0])
		if len(fields) == 2 && isHeaderKey(key) {
			val, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("bad header value %q for %s", fields[1], key)
			}
			switch key {
			case "ncols":
				g.NCols = int(val)
			case "nrows":
				g.NRows = int(val)
			case "xllcorner":
				g.XLL = val
			case "yllcorner":
				g.YLL = val
			case "cellsize":
				g.CellSize = val
			case "nodata_value":
				g.NoData = val
			}
			headerFields++
			continue
		}
		firstDataLine = line
		break
	}

	if g.NCols <= 0 || g.NRows <= 0 || g.CellSize <= 0 || headerFields < 5 {
		return nil, fmt.Errorf("incomplete grid header (ncols=%d nrows=%d cellsize=%f)", g.NCols, g.NRows, g.CellSize)
	}

	g.Values = make([]float64, 0, g.NCols*g.NRows)
	appendRow := func(line string) error {
		for _, tok := range strings.Fields(line) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return fmt.Errorf("bad cell value %q", tok)
			}
			g.Values = append(g.Values, v)
		}
		return nil
	}

	if firstDataLine != "" {
		if err := appendRow(firstDataLine); err != nil {
			return nil, err
		}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := appendRow(line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(g.Values) != g.NCols*g.NRows {
		return nil, fmt.Errorf("grid has %d values, expected %d", len(g.Values), g.NCols*g.NRows)
	}
	return g, nil
}

func isHeaderKey(key string) bool {
	switch key {
	case "ncols", "nrows", "xllcorner", "yllcorner", "cellsize", "nodata_value":
		return true
	}
	return false
}

// Value returns the cell value at (col, row), with row 0 at the northern edge.
// ok is false outside the grid or on NoData cells.
func (g *Grid) Value(col, row int) (float64, bool) {
	if col < 0 || col >= g.NCols || row < 0 || row >= g.NRows {
		return 0, false
	}
	v := g.Values[row*g.NCols+col]
	if v == g.NoData {
		return 0, false
	}
	return v, true
}

// CellCenter returns the geographic center of the cell at (col, row).
func (g *Grid) CellCenter(col, row int) orb.Point {
	lon := g.XLL + (float64(col)+0.5)*g.CellSize
	lat := g.YLL + (float64(g.NRows-1-row)+0.5)*g.CellSize
	return orb.Point{lon, lat}
}

// CellRange returns the half-open col/row ranges covering a geographic bound.
func (g *Grid) CellRange(b orb.Bound) (colMin, colMax, rowMin, rowMax int) {
	colMin = int((b.Min[0] - g.XLL) / g.CellSize)
	colMax = int((b.Max[0]-g.XLL)/g.CellSize) + 1
	north := g.YLL + float64(g.NRows)*g.CellSize
	rowMin = int((north - b.Max[1]) / g.CellSize)
	rowMax = int((north-b.Min[1])/g.CellSize) + 1

	colMin = clamp(colMin, 0, g.NCols)
	colMax = clamp(colMax, 0, g.NCols)
	rowMin = clamp(rowMin, 0, g.NRows)
	rowMax = clamp(rowMax, 0, g.NRows)
	return
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
