package routing

import (
	"context"
	"fmt"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"osmroute/feature"
	"osmroute/metrics"
	"strings"
	"time"
)

type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateFound
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateFound:
		return "found"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrSearchLimit is returned when the search expanded more points than allowed.
var ErrSearchLimit = errors.New("search limit reached")

// NeighborResolver returns the points reachable from a point when arriving from the predecessor (nil for the start).
type NeighborResolver interface {
	NeighborsFrom(ctx context.Context, point *feature.Point, predecessor *feature.Point) ([]*feature.Point, error)
}

type PointLookup interface {
	LookupPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error)
}

// Route is an A* search between two points. The great-circle distance is used as edge cost and as heuristic.
type Route struct {
	resolver      NeighborResolver
	points        PointLookup
	start         osm.NodeID
	destination   osm.NodeID
	maxExpansions int

	state        State
	open         map[osm.NodeID]float64
	queue        *openQueue
	closed       map[osm.NodeID]bool
	gScore       map[osm.NodeID]float64
	predecessors map[osm.NodeID]osm.NodeID
	visited      map[osm.NodeID]*feature.Point
	path         []osm.NodeID
	expansions   int
}

func NewRoute(resolver NeighborResolver, points PointLookup, start osm.NodeID, destination osm.NodeID) *Route {
	return &Route{
		resolver:    resolver,
		points:      points,
		start:       start,
		destination: destination,
		state:       StateNotStarted,
	}
}

// SetMaxExpansions limits the number of expanded points. Zero means no limit.
func (r *Route) SetMaxExpansions(maxExpansions int) {
	r.maxExpansions = maxExpansions
}

func (r *Route) reset() {
	r.open = map[osm.NodeID]float64{}
	r.queue = &openQueue{}
	r.closed = map[osm.NodeID]bool{}
	r.gScore = map[osm.NodeID]float64{}
	r.predecessors = map[osm.NodeID]osm.NodeID{}
	r.visited = map[osm.NodeID]*feature.Point{}
	r.path = nil
	r.expansions = 0
}

// Calc searches the shortest path and returns true when one has been found. Calling it again starts a new search.
func (r *Route) Calc(ctx context.Context) (bool, error) {
	r.reset()
	r.state = StateRunning

	startTime := time.Now()
	found, err := r.search(ctx)
	duration := time.Since(startTime)

	switch {
	case err != nil:
		r.state = StateFailed
		err = errors.Wrapf(err, "Path computation from %d to %d failed", r.start, r.destination)
	case found:
		r.state = StateFound
	default:
		r.state = StateExhausted
	}

	metrics.SearchesTotal.WithLabelValues(r.state.String()).Inc()
	metrics.SearchDurationMs.Observe(float64(duration.Milliseconds()))
	metrics.SearchExpansions.Observe(float64(r.expansions))
	sigolo.Debugf("Search from %d to %d ended with state %s after %d expansions in %s", r.start, r.destination, r.state, r.expansions, duration)

	return found, err
}

func (r *Route) search(ctx context.Context) (bool, error) {
	startPoint, err := r.points.LookupPoint(ctx, r.start)
	if err != nil {
		return false, errors.Wrap(err, "Unable to get start point")
	}
	destinationPoint, err := r.points.LookupPoint(ctx, r.destination)
	if err != nil {
		return false, errors.Wrap(err, "Unable to get destination point")
	}

	r.visited[r.start] = startPoint
	r.gScore[r.start] = 0
	r.open[r.start] = 0
	r.queue.push(r.start, 0)

	for r.queue.Len() > 0 {
		if err = ctx.Err(); err != nil {
			return false, err
		}

		entry := r.queue.pop()
		current := entry.id
		if cost, ok := r.open[current]; !ok || cost != entry.cost {
			continue
		}
		delete(r.open, current)

		if current == r.destination {
			r.path = r.reconstructPath()
			return true, nil
		}

		r.closed[current] = true
		r.expansions++
		if r.maxExpansions > 0 && r.expansions > r.maxExpansions {
			return false, errors.Wrapf(ErrSearchLimit, "expanded more than %d points", r.maxExpansions)
		}

		currentPoint := r.visited[current]
		var predecessorPoint *feature.Point
		if predecessor, ok := r.predecessors[current]; ok {
			predecessorPoint = r.visited[predecessor]
		}

		neighbors, err := r.resolver.NeighborsFrom(ctx, currentPoint, predecessorPoint)
		if err != nil {
			return false, err
		}

		for _, neighbor := range neighbors {
			if r.closed[neighbor.ID] {
				continue
			}

			tentativeG := r.gScore[current] + Distance(currentPoint, neighbor)
			if _, isOpen := r.open[neighbor.ID]; isOpen && r.gScore[neighbor.ID] <= tentativeG {
				continue
			}

			f := tentativeG + Distance(neighbor, destinationPoint)
			r.predecessors[neighbor.ID] = current
			r.gScore[neighbor.ID] = tentativeG
			r.open[neighbor.ID] = f
			r.visited[neighbor.ID] = neighbor
			r.queue.push(neighbor.ID, f)
		}

		if sigolo.ShouldLogTrace() {
			sigolo.Tracef("Expanded point %d: %d neighbors, %d open, %d closed", current, len(neighbors), len(r.open), len(r.closed))
		}
	}

	return false, nil
}

func (r *Route) reconstructPath() []osm.NodeID {
	path := []osm.NodeID{r.destination}
	for id := r.destination; id != r.start; {
		id = r.predecessors[id]
		path = append(path, id)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Distance returns the great-circle distance between both points in meters.
func Distance(a *feature.Point, b *feature.Point) float64 {
	return geo.DistanceHaversine(a.Location(), b.Location())
}

func (r *Route) State() State {
	return r.state
}

func (r *Route) Start() osm.NodeID {
	return r.start
}

func (r *Route) Destination() osm.NodeID {
	return r.destination
}

// Path returns the IDs of all points from start to destination or nil when no path has been found.
func (r *Route) Path() []osm.NodeID {
	if r.state != StateFound {
		return nil
	}
	path := make([]osm.NodeID, len(r.path))
	copy(path, r.path)
	return path
}

// Points returns the points along the path or nil when no path has been found.
func (r *Route) Points() []*feature.Point {
	if r.state != StateFound {
		return nil
	}
	points := make([]*feature.Point, len(r.path))
	for i, id := range r.path {
		points[i] = r.visited[id]
	}
	return points
}

// Cost returns the length of the path in meters or 0 when no path has been found.
func (r *Route) Cost() float64 {
	if r.state != StateFound {
		return 0
	}
	return r.gScore[r.destination]
}

// Expansions returns the number of points expanded by the last search.
func (r *Route) Expansions() int {
	return r.expansions
}

func (r *Route) String() string {
	prefix := fmt.Sprintf("%d --> %d: ", r.start, r.destination)

	switch r.state {
	case StateNotStarted, StateRunning:
		return prefix + "Not calculated yet"
	case StateFound:
		ids := make([]string, len(r.path))
		for i, id := range r.path {
			ids[i] = fmt.Sprintf("%d", id)
		}
		return prefix + strings.Join(ids, ", ")
	}
	return prefix + "No route found"
}
