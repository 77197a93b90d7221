package offline

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"mapsync/pkg/routing"
)

// meters per second used when an edge carries no duration
var speeds = map[routing.TravelMode]float64{
	routing.ModeCar:  50 / 3.6,
	routing.ModeBike: 15 / 3.6,
	routing.ModeFoot: 5 / 3.6,
}

// maxSnapMeters bounds the distance between a coordinate and its graph node
const maxSnapMeters = 2000.0

type edgeKey struct{ from, to int64 }

// Graph is the road network of one travel mode, weighted by distance
type Graph struct {
	mode    routing.TravelMode
	g       *simple.WeightedDirectedGraph
	nodes   []orb.Point
	ids     map[orb.Point]int64
	seconds map[edgeKey]float64
}

func BuildGraph(edges []Edge, mode routing.TravelMode) *Graph {
	gr := &Graph{
		mode:    mode,
		g:       simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		ids:     make(map[orb.Point]int64),
		seconds: make(map[edgeKey]float64),
	}

	for _, e := range edges {
		from, to := gr.node(e.From), gr.node(e.To)
		if from == to {
			continue
		}
		secs := e.Duration
		if mode != routing.ModeCar || secs <= 0 {
			secs = e.Distance / speeds[mode]
		}
		gr.connect(from, to, e.Distance, secs)
		if !e.Oneway || mode == routing.ModeFoot {
			gr.connect(to, from, e.Distance, secs)
		}
	}
	return gr
}

func (gr *Graph) node(p orb.Point) int64 {
	if id, ok := gr.ids[p]; ok {
		return id
	}
	id := int64(len(gr.nodes))
	gr.nodes = append(gr.nodes, p)
	gr.ids[p] = id
	gr.g.AddNode(simple.Node(id))
	return id
}

func (gr *Graph) connect(from, to int64, meters, secs float64) {
	if w, ok := gr.g.Weight(from, to); ok && w <= meters {
		return
	}
	gr.g.SetWeightedEdge(gr.g.NewWeightedEdge(simple.Node(from), simple.Node(to), meters))
	gr.seconds[edgeKey{from, to}] = secs
}

func (gr *Graph) NodeCount() int {
	return len(gr.nodes)
}

func (gr *Graph) nearest(p orb.Point) (int64, float64, bool) {
	best, bestDist := int64(-1), math.Inf(1)
	for id, n := range gr.nodes {
		if d := geo.DistanceHaversine(p, n); d < bestDist {
			best, bestDist = int64(id), d
		}
	}
	return best, bestDist, best >= 0 && bestDist <= maxSnapMeters
}

// Route finds the shortest path between two coordinates. ok is false when
// either end is off the network or the nodes are not connected.
func (gr *Graph) Route(from, to orb.Point) (routing.Result, bool) {
	fromID, fromSnap, ok := gr.nearest(from)
	if !ok {
		return routing.Result{}, false
	}
	toID, toSnap, ok := gr.nearest(to)
	if !ok {
		return routing.Result{}, false
	}

	shortest := path.DijkstraFrom(simple.Node(fromID), gr.g)
	nodes, meters := shortest.To(toID)
	if len(nodes) == 0 || math.IsInf(meters, 1) {
		return routing.Result{}, false
	}

	line := make(orb.LineString, 0, len(nodes)+2)
	if fromSnap > 0 {
		line = append(line, from)
	}
	secs := (fromSnap + toSnap) / speeds[gr.mode]
	for i, n := range nodes {
		line = append(line, gr.nodes[n.ID()])
		if i > 0 {
			secs += gr.seconds[edgeKey{nodes[i-1].ID(), n.ID()}]
		}
	}
	if toSnap > 0 {
		line = append(line, to)
	}

	return routing.Result{
		Path:     line,
		Distance: fromSnap + meters + toSnap,
		Duration: time.Duration(secs * float64(time.Second)),
		Valid:    true,
	}, true
}
