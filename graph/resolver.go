package graph

import (
	"context"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"osmroute/feature"
	"osmroute/index"
	"osmroute/restriction"
)

// Resolver determines the points directly reachable from a given point. It respects the direction of one-way segments
// and, when the predecessor is known, turn restrictions.
type Resolver struct {
	cache *index.Cache
}

func NewResolver(cache *index.Cache) *Resolver {
	return &Resolver{
		cache: cache,
	}
}

// OccurrenceIndices returns all positions of the point within the node list of the segment. Closed or looped segments
// contain a point more than once.
func OccurrenceIndices(pointId osm.NodeID, segment *feature.Segment) []int {
	var indices []int
	for i, node := range segment.Nodes {
		if node.ID == pointId {
			indices = append(indices, i)
		}
	}
	return indices
}

// neighborIds returns the IDs of all points adjacent to the given point within the given segments which can be reached
// according to the direction of the segments. The IDs are unique, the order is the order of occurrence.
func neighborIds(pointId osm.NodeID, segments []*feature.Segment) []osm.NodeID {
	var ids []osm.NodeID
	seen := map[osm.NodeID]bool{}

	add := func(id osm.NodeID) {
		if id == pointId || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, segment := range segments {
		direction := feature.ClassifyDirection(segment)
		for _, i := range OccurrenceIndices(pointId, segment) {
			if i > 0 && direction.AllowsPrevious() {
				add(segment.Nodes[i-1].ID)
			}
			if i < len(segment.Nodes)-1 && direction.AllowsNext() {
				add(segment.Nodes[i+1].ID)
			}
		}
	}

	return ids
}

// Neighbors returns all points reachable from the given point without considering turn restrictions. Points that
// don't exist in the source are left out.
func (r *Resolver) Neighbors(ctx context.Context, point *feature.Point) ([]*feature.Point, error) {
	segments, err := r.cache.SegmentsContaining(ctx, point.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get segments of point %d", point.ID)
	}

	return r.pointsOf(ctx, point, segments)
}

// NeighborsFrom returns all points reachable from the given point when arriving from the predecessor. Turn
// restrictions with one of the segments between predecessor and point as "from" member are applied. A nil predecessor
// results in the same points as Neighbors.
func (r *Resolver) NeighborsFrom(ctx context.Context, point *feature.Point, predecessor *feature.Point) ([]*feature.Point, error) {
	if predecessor == nil {
		return r.Neighbors(ctx, point)
	}

	segments, err := r.cache.SegmentsContaining(ctx, point.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get segments of point %d", point.ID)
	}

	connectingSegments, err := r.ConnectingSegments(ctx, predecessor, point)
	if err != nil {
		return nil, err
	}

	mandatory, forbidden, err := r.restrictionsFrom(ctx, point, connectingSegments)
	if err != nil {
		return nil, err
	}

	// Restrictions are only applied when both kinds exist for this point.
	if len(mandatory) > 0 && len(forbidden) > 0 {
		segments = filterSegments(segments, mandatory, forbidden)
	}

	return r.pointsOf(ctx, point, segments)
}

// ConnectingSegments returns all segments in which the point "to" can be reached directly from the point "from".
func (r *Resolver) ConnectingSegments(ctx context.Context, from *feature.Point, to *feature.Point) ([]*feature.Segment, error) {
	segments, err := r.cache.SegmentsContaining(ctx, to.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get segments of point %d", to.ID)
	}

	var connectingSegments []*feature.Segment
	for _, segment := range segments {
		if !segment.HasNode(from.ID) {
			continue
		}
		for _, id := range neighborIds(from.ID, []*feature.Segment{segment}) {
			if id == to.ID {
				connectingSegments = append(connectingSegments, segment)
				break
			}
		}
	}

	return connectingSegments, nil
}

// restrictionsFrom returns the mandatory and forbidden restrictions referencing the point whose "from" member is one
// of the given segments. Relations that aren't valid restrictions are skipped.
func (r *Resolver) restrictionsFrom(ctx context.Context, point *feature.Point, fromSegments []*feature.Segment) ([]*restriction.Relation, []*restriction.Relation, error) {
	if len(fromSegments) == 0 {
		return nil, nil, nil
	}

	relations, err := r.cache.RelationsReferencing(ctx, point.FeatureID())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Unable to get relations of point %d", point.ID)
	}

	var mandatory []*restriction.Relation
	var forbidden []*restriction.Relation

	for _, relation := range relations {
		turnRestriction, err := restriction.AsRestriction(relation)
		if err != nil {
			continue
		}

		err = turnRestriction.Validate()
		if err != nil {
			sigolo.Debugf("Skip restriction: %v", err)
			continue
		}

		from, _ := turnRestriction.From()
		if !containsSegment(fromSegments, from.FeatureID()) {
			continue
		}

		if turnRestriction.IsCommandment() {
			mandatory = append(mandatory, turnRestriction)
		} else {
			forbidden = append(forbidden, turnRestriction)
		}
	}

	if sigolo.ShouldLogTrace() {
		sigolo.Tracef("Point %d has %d mandatory and %d forbidden restrictions", point.ID, len(mandatory), len(forbidden))
	}

	return mandatory, forbidden, nil
}

// filterSegments keeps all segments that are the "to" member of every mandatory restriction and of no forbidden one.
func filterSegments(segments []*feature.Segment, mandatory []*restriction.Relation, forbidden []*restriction.Relation) []*feature.Segment {
	var result []*feature.Segment

	for _, segment := range segments {
		allowed := true

		for _, turnRestriction := range mandatory {
			to, _ := turnRestriction.To()
			if to.FeatureID() != segment.FeatureID() {
				allowed = false
				break
			}
		}

		for _, turnRestriction := range forbidden {
			to, _ := turnRestriction.To()
			if to.FeatureID() == segment.FeatureID() {
				allowed = false
				break
			}
		}

		if allowed {
			result = append(result, segment)
		}
	}

	return result
}

func containsSegment(segments []*feature.Segment, id osm.FeatureID) bool {
	for _, segment := range segments {
		if segment.FeatureID() == id {
			return true
		}
	}
	return false
}

func (r *Resolver) pointsOf(ctx context.Context, point *feature.Point, segments []*feature.Segment) ([]*feature.Point, error) {
	ids := neighborIds(point.ID, segments)

	points, err := r.cache.GetPoints(ctx, ids)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to get neighbors of point %d", point.ID)
	}

	return points, nil
}
