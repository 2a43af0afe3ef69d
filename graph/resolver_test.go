package graph

import (
	"context"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"osmroute/feature"
	"osmroute/index"
	"osmroute/source"
	"osmroute/util"
	"testing"
)

// loadedSource never has anything to deliver, so all features have to be stored in the cache beforehand.
type loadedSource struct{}

func (s loadedSource) FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	return nil, errors.Wrap(source.ErrNotFound, "point")
}

func (s loadedSource) FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	return nil, errors.Wrap(source.ErrNotFound, "segment")
}

func (s loadedSource) FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	return nil, errors.Wrap(source.ErrNotFound, "relation")
}

func (s loadedSource) FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	return nil, nil
}

func (s loadedSource) FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	return nil, nil
}

func (s loadedSource) IsFullyLoaded() bool {
	return true
}

func newCache(pointIds []osm.NodeID, features ...feature.Feature) *index.Cache {
	cache := index.NewCache(loadedSource{}, 1)
	for _, id := range pointIds {
		cache.Store(feature.NewPoint(&osm.Node{ID: id, Lat: 53.5 + float64(id)/1000, Lon: 10}))
	}
	for _, f := range features {
		cache.Store(f)
	}
	return cache
}

func newSegment(id osm.WayID, oneway string, nodeIds ...osm.NodeID) *feature.Segment {
	way := &osm.Way{ID: id}
	for _, nodeId := range nodeIds {
		way.Nodes = append(way.Nodes, osm.WayNode{ID: nodeId})
	}
	if oneway != "" {
		way.Tags = osm.Tags{{Key: "oneway", Value: oneway}}
	}
	return feature.NewSegment(way)
}

func newRestriction(id osm.RelationID, value string, from osm.WayID, via osm.NodeID, to osm.WayID) *feature.Relation {
	return feature.NewRelation(&osm.Relation{
		ID: id,
		Tags: osm.Tags{
			{Key: "type", Value: "restriction"},
			{Key: "restriction", Value: value},
		},
		Members: osm.Members{
			{Type: osm.TypeWay, Ref: int64(from), Role: "from"},
			{Type: osm.TypeNode, Ref: int64(via), Role: "via"},
			{Type: osm.TypeWay, Ref: int64(to), Role: "to"},
		},
	})
}

func ids(points []*feature.Point) []osm.NodeID {
	result := make([]osm.NodeID, len(points))
	for i, point := range points {
		result[i] = point.ID
	}
	return result
}

func point(id osm.NodeID) *feature.Point {
	return feature.NewPoint(&osm.Node{ID: id})
}

func TestResolver_occurrenceIndices(t *testing.T) {
	// Arrange
	loop := newSegment(1, "", 1, 2, 3, 1)

	// Act & Assert
	util.AssertEqual(t, []int{0, 3}, OccurrenceIndices(1, loop))
	util.AssertEqual(t, []int{1}, OccurrenceIndices(2, loop))
	util.AssertNil(t, OccurrenceIndices(4, loop))
}

func TestResolver_neighborsRespectDirection(t *testing.T) {
	tests := []struct {
		oneway   string
		expected []osm.NodeID
	}{
		{oneway: "", expected: []osm.NodeID{1, 3}},
		{oneway: "yes", expected: []osm.NodeID{3}},
		{oneway: "-1", expected: []osm.NodeID{1}},
		{oneway: "reversible", expected: []osm.NodeID{1, 3}},
	}

	for _, test := range tests {
		t.Run("oneway="+test.oneway, func(t *testing.T) {
			// Arrange
			resolver := NewResolver(newCache([]osm.NodeID{1, 2, 3}, newSegment(10, test.oneway, 1, 2, 3)))

			// Act
			neighbors, err := resolver.Neighbors(context.Background(), point(2))

			// Assert
			util.AssertNil(t, err)
			util.AssertEqual(t, test.expected, ids(neighbors))
		})
	}
}

func TestResolver_neighborsInLoops(t *testing.T) {
	// Arrange
	resolver := NewResolver(newCache([]osm.NodeID{1, 2, 3},
		newSegment(10, "", 1, 2, 3, 1),
		newSegment(11, "", 2, 2, 3),
	))

	// Act
	neighborsOfStart, startErr := resolver.Neighbors(context.Background(), point(1))
	neighborsOfDuplicate, duplicateErr := resolver.Neighbors(context.Background(), point(2))

	// Assert
	util.AssertNil(t, startErr)
	util.AssertNil(t, duplicateErr)
	util.AssertEqual(t, []osm.NodeID{2, 3}, ids(neighborsOfStart))
	util.AssertEqual(t, []osm.NodeID{1, 3}, ids(neighborsOfDuplicate))
}

func TestResolver_missingNeighborIsDropped(t *testing.T) {
	// Arrange
	resolver := NewResolver(newCache([]osm.NodeID{1, 2}, newSegment(10, "", 1, 2, 99)))

	// Act
	neighbors, err := resolver.Neighbors(context.Background(), point(2))

	// Assert
	util.AssertNil(t, err)
	util.AssertEqual(t, []osm.NodeID{1}, ids(neighbors))
}

// Crossing at point 10: segment 100 comes from point 1, segments 200, 300 and 400 lead to points 2, 3 and 4.
func newCrossing(relations ...feature.Feature) *Resolver {
	features := []feature.Feature{
		newSegment(100, "", 1, 10),
		newSegment(200, "", 10, 2),
		newSegment(300, "", 10, 3),
		newSegment(400, "", 10, 4),
	}
	features = append(features, relations...)
	return NewResolver(newCache([]osm.NodeID{1, 2, 3, 4, 10}, features...))
}

func TestResolver_restrictionsAreEnforced(t *testing.T) {
	// Arrange
	resolver := newCrossing(
		newRestriction(1000, "only_straight_on", 100, 10, 200),
		newRestriction(1001, "no_left_turn", 100, 10, 300),
	)

	// Act
	fromPredecessor, predecessorErr := resolver.NeighborsFrom(context.Background(), point(10), point(1))
	withoutPredecessor, err := resolver.NeighborsFrom(context.Background(), point(10), nil)
	fromOtherSide, otherSideErr := resolver.NeighborsFrom(context.Background(), point(10), point(4))

	// Assert
	util.AssertNil(t, predecessorErr)
	util.AssertNil(t, err)
	util.AssertNil(t, otherSideErr)
	util.AssertEqual(t, []osm.NodeID{2}, ids(fromPredecessor))
	util.AssertEqual(t, []osm.NodeID{1, 2, 3, 4}, ids(withoutPredecessor))
	util.AssertEqual(t, []osm.NodeID{1, 2, 3, 4}, ids(fromOtherSide))
}

func TestResolver_singleKindOfRestrictionIsNotEnforced(t *testing.T) {
	// Arrange
	resolver := newCrossing(
		newRestriction(1000, "only_straight_on", 100, 10, 200),
		feature.NewRelation(&osm.Relation{ID: 1002, Tags: osm.Tags{{Key: "type", Value: "route"}}, Members: osm.Members{{Type: osm.TypeNode, Ref: 10}}}),
	)

	// Act
	neighbors, err := resolver.NeighborsFrom(context.Background(), point(10), point(1))

	// Assert
	util.AssertNil(t, err)
	util.AssertEqual(t, []osm.NodeID{1, 2, 3, 4}, ids(neighbors))
}

func TestResolver_connectingSegments(t *testing.T) {
	// Arrange
	resolver := NewResolver(newCache([]osm.NodeID{1, 2, 3, 10},
		newSegment(100, "", 1, 10),
		newSegment(200, "yes", 10, 2),
		newSegment(300, "", 1, 3, 10),
	))

	// Act
	fromStart, startErr := resolver.ConnectingSegments(context.Background(), point(1), point(10))
	againstOneway, onewayErr := resolver.ConnectingSegments(context.Background(), point(2), point(10))
	withOneway, withOnewayErr := resolver.ConnectingSegments(context.Background(), point(10), point(2))

	// Assert
	util.AssertNil(t, startErr)
	util.AssertNil(t, onewayErr)
	util.AssertNil(t, withOnewayErr)
	util.AssertEqual(t, 1, len(fromStart))
	util.AssertEqual(t, osm.WayID(100), fromStart[0].ID)
	util.AssertEqual(t, 0, len(againstOneway))
	util.AssertEqual(t, 1, len(withOneway))
}
