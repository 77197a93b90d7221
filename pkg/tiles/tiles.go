package tiles

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ID calculates the slippy map tile id ("z/x/y") for given coordinates
func ID(lat, lon float64, zoom int) string {
	x, y := xy(lat, lon, zoom)
	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}

func xy(lat, lon float64, zoom int) (int, int) {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return clamp(x, 0, maxTile), clamp(y, 0, maxTile)
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

// Bound returns the geographic rectangle covered by a tile
func Bound(zoom, x, y int) orb.Bound {
	n := math.Pow(2, float64(zoom))
	minLon := float64(x)/n*360.0 - 180.0
	maxLon := float64(x+1)/n*360.0 - 180.0

	minLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y+1)/n)))
	maxLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	return orb.Bound{
		Min: orb.Point{minLon, minLatRad * 180.0 / math.Pi},
		Max: orb.Point{maxLon, maxLatRad * 180.0 / math.Pi},
	}
}

// Parse extracts zoom, x, y from a tile id string
func Parse(tileID string) (zoom, x, y int, ok bool) {
	n, err := fmt.Sscanf(tileID, "%d/%d/%d", &zoom, &x, &y)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return zoom, x, y, true
}

// InBound returns all tile ids that intersect the given bound
func InBound(b orb.Bound, zoom int) []string {
	x1, y1 := xy(b.Max.Lat(), b.Min.Lon(), zoom)
	x2, y2 := xy(b.Min.Lat(), b.Max.Lon(), zoom)

	var ids []string
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			ids = append(ids, fmt.Sprintf("%d/%d/%d", zoom, x, y))
		}
	}
	return ids
}

// CountInBound returns the number of tiles InBound would return
func CountInBound(b orb.Bound, zoom int) int {
	x1, y1 := xy(b.Max.Lat(), b.Min.Lon(), zoom)
	x2, y2 := xy(b.Min.Lat(), b.Max.Lon(), zoom)
	return (x2 - x1 + 1) * (y2 - y1 + 1)
}

// ForPoints returns the distinct tiles touched by the points, in first-seen order.
// When the bounding box of the points spans at most maxBoxTiles tiles, every tile
// of the box is included so that connectors are found from tiles they cross.
func ForPoints(points []orb.Point, zoom, maxBoxTiles int) []string {
	if len(points) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, p := range points {
		add(ID(p.Lat(), p.Lon(), zoom))
	}

	if len(points) > 1 {
		b := orb.MultiPoint(points).Bound()
		if CountInBound(b, zoom) <= maxBoxTiles {
			for _, id := range InBound(b, zoom) {
				add(id)
			}
		}
	}
	return ids
}
