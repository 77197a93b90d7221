package offline

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const edgesFile = "edges.csv"

// Edge is one road segment of a tile archive
type Edge struct {
	From     orb.Point
	To       orb.Point
	Distance float64 // meters
	Duration float64 // seconds, 0 when unknown
	Oneway   bool
}

// ParseEdges reads edges.csv from a tile archive. Columns:
// from_lon,from_lat,to_lon,to_lat,distance_m,duration_s,oneway
func ParseEdges(reader *zip.Reader) ([]Edge, error) {
	var file *zip.File
	for _, f := range reader.File {
		if f.Name == edgesFile {
			file = f
			break
		}
	}
	if file == nil {
		return nil, fmt.Errorf("archive has no %s", edgesFile)
	}

	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"from_lon", "from_lat", "to_lon", "to_lat"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %s", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var edges []Edge
	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var coords [4]float64
		for i, name := range []string{"from_lon", "from_lat", "to_lon", "to_lat"} {
			v, err := strconv.ParseFloat(field(record, name), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			coords[i] = v
		}

		e := Edge{
			From: orb.Point{coords[0], coords[1]},
			To:   orb.Point{coords[2], coords[3]},
		}
		if e.From == e.To {
			continue
		}
		if v, err := strconv.ParseFloat(field(record, "distance_m"), 64); err == nil && v > 0 {
			e.Distance = v
		} else {
			e.Distance = geo.DistanceHaversine(e.From, e.To)
		}
		if v, err := strconv.ParseFloat(field(record, "duration_s"), 64); err == nil && v > 0 {
			e.Duration = v
		}
		switch strings.ToLower(field(record, "oneway")) {
		case "1", "true", "yes":
			e.Oneway = true
		}
		edges = append(edges, e)
	}

	return edges, nil
}
