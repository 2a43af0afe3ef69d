package index

import (
	"context"
	"fmt"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"osmroute/feature"
	"osmroute/source"
	"osmroute/util"
	"sync"
	"testing"
	"time"
)

// fakeSource serves the features of a fixed map and counts how often each key has been requested.
type fakeSource struct {
	points    map[osm.NodeID]*osm.Node
	segments  []*osm.Way
	relations []*osm.Relation

	failing     map[osm.NodeID]bool
	fullyLoaded bool
	reverseGate chan struct{}
	sink        source.Sink
	calls       map[string]int
	callsMutex  *sync.Mutex
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		points: map[osm.NodeID]*osm.Node{
			1: {ID: 1, Lat: 53.50, Lon: 10.00},
			2: {ID: 2, Lat: 53.51, Lon: 10.00},
			3: {ID: 3, Lat: 53.52, Lon: 10.00},
		},
		segments: []*osm.Way{
			{ID: 20, Nodes: osm.WayNodes{{ID: 2}, {ID: 3}}},
			{ID: 10, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}}},
		},
		relations: []*osm.Relation{
			{ID: 100, Members: osm.Members{
				{Type: osm.TypeWay, Ref: 10, Role: "from"},
				{Type: osm.TypeNode, Ref: 2, Role: "via"},
				{Type: osm.TypeWay, Ref: 20, Role: "to"},
			}},
		},
		failing:    map[osm.NodeID]bool{},
		calls:      map[string]int{},
		callsMutex: &sync.Mutex{},
	}
}

func key(id osm.FeatureID) string {
	return fmt.Sprintf("%s/%d", id.Type(), id.Ref())
}

func (s *fakeSource) count(key string) {
	s.callsMutex.Lock()
	defer s.callsMutex.Unlock()
	s.calls[key]++
}

func (s *fakeSource) callsOf(key string) int {
	s.callsMutex.Lock()
	defer s.callsMutex.Unlock()
	return s.calls[key]
}

func (s *fakeSource) FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	s.count(key(id.FeatureID()))
	if s.failing[id] {
		return nil, &source.FetchError{Request: id.FeatureID().String(), Err: errors.New("connection reset")}
	}
	if node, ok := s.points[id]; ok {
		return feature.NewPoint(node), nil
	}
	return nil, errors.Wrapf(source.ErrNotFound, "%s", id.FeatureID())
}

func (s *fakeSource) FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	s.count(key(id.FeatureID()))
	for _, way := range s.segments {
		if way.ID == id {
			return feature.NewSegment(way), nil
		}
	}
	return nil, errors.Wrapf(source.ErrNotFound, "%s", id.FeatureID())
}

func (s *fakeSource) FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	s.count(key(id.FeatureID()))
	for _, relation := range s.relations {
		if relation.ID == id {
			return feature.NewRelation(relation), nil
		}
	}
	return nil, errors.Wrapf(source.ErrNotFound, "%s", id.FeatureID())
}

func (s *fakeSource) FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	s.count("segments:" + key(id.FeatureID()))
	if s.reverseGate != nil {
		select {
		case <-s.reverseGate:
		case <-ctx.Done():
			return nil, &source.FetchError{Request: "segments", Err: ctx.Err()}
		}
	}
	if s.failing[id] {
		return nil, &source.FetchError{Request: "segments", Err: errors.New("connection reset")}
	}

	var result []*feature.Segment
	for _, way := range s.segments {
		segment := feature.NewSegment(way)
		if segment.HasNode(id) {
			result = append(result, segment)
		}
	}
	return result, nil
}

func (s *fakeSource) FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	s.count("relations:" + key(id))
	var result []*feature.Relation
	for _, r := range s.relations {
		relation := feature.NewRelation(r)
		if relation.HasMember(id) {
			result = append(result, relation)
		}
	}
	return result, nil
}

func (s *fakeSource) IsFullyLoaded() bool {
	return s.fullyLoaded
}

func (s *fakeSource) SetSink(sink source.Sink) {
	s.sink = sink
}

func TestCache_getPointFetchesOnce(t *testing.T) {
	// Arrange
	src := newFakeSource()
	cache := NewCache(src, 2)

	// Act
	first, firstErr := cache.GetPoint(context.Background(), 1)
	second, secondErr := cache.GetPoint(context.Background(), 1)

	// Assert
	util.AssertNil(t, firstErr)
	util.AssertNil(t, secondErr)
	util.AssertEqual(t, osm.NodeID(1), first.GetID())
	util.AssertTrue(t, first == second)
	util.AssertEqual(t, 1, src.callsOf("node/1"))
}

func TestCache_missingAndFailingFeatures(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.failing[3] = true
	cache := NewCache(src, 2)

	// Act
	missingPoint, missingErr := cache.GetPoint(context.Background(), 99)
	failingPoint, failingErr := cache.GetPoint(context.Background(), 3)
	_, lookupMissingErr := cache.LookupPoint(context.Background(), 99)
	_, lookupFailingErr := cache.LookupPoint(context.Background(), 3)

	// Assert
	util.AssertNil(t, missingPoint)
	util.AssertNil(t, missingErr)
	util.AssertNil(t, failingPoint)
	util.AssertNil(t, failingErr)

	util.AssertErrorIs(t, ErrNotPresent, lookupMissingErr)
	util.AssertFalse(t, errors.Is(lookupFailingErr, ErrNotPresent))
	var fetchError *source.FetchError
	util.AssertTrue(t, errors.As(lookupFailingErr, &fetchError))
}

func TestCache_getSegmentAndRelation(t *testing.T) {
	// Arrange
	src := newFakeSource()
	cache := NewCache(src, 2)

	// Act
	segment, segmentErr := cache.GetSegment(context.Background(), 10)
	relation, relationErr := cache.GetRelation(context.Background(), 100)

	// Assert
	util.AssertNil(t, segmentErr)
	util.AssertNil(t, relationErr)
	util.AssertEqual(t, osm.WayID(10), segment.GetID())
	util.AssertEqual(t, osm.RelationID(100), relation.GetID())
	util.AssertEqual(t, Stats{Points: 0, Segments: 1, Relations: 1}, cache.Stats())
}

func TestCache_segmentsContainingIsIdempotent(t *testing.T) {
	// Arrange
	src := newFakeSource()
	cache := NewCache(src, 2)

	// Act
	first, firstErr := cache.SegmentsContaining(context.Background(), 2)
	second, secondErr := cache.SegmentsContaining(context.Background(), 2)

	// Assert
	util.AssertNil(t, firstErr)
	util.AssertNil(t, secondErr)
	util.AssertEqual(t, 1, src.callsOf("segments:node/2"))
	util.AssertEqual(t, 2, len(second))
	util.AssertEqual(t, osm.WayID(10), second[0].GetID())
	util.AssertEqual(t, osm.WayID(20), second[1].GetID())
	util.AssertEqual(t, first, second)
}

func TestCache_segmentsContainingConcurrently(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.reverseGate = make(chan struct{})
	cache := NewCache(src, 2)

	results := make([][]*feature.Segment, 10)
	wg := &sync.WaitGroup{}

	// Act
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = cache.SegmentsContaining(context.Background(), 2)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.reverseGate)
	wg.Wait()

	// Assert
	util.AssertEqual(t, 1, src.callsOf("segments:node/2"))
	for _, result := range results {
		util.AssertEqual(t, 2, len(result))
	}
}

func TestCache_cancelledCallerDoesNotCancelSharedFetch(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.reverseGate = make(chan struct{})
	cache := NewCache(src, 2)

	cancelledCtx, cancel := context.WithCancel(context.Background())
	var cancelledErr error
	var otherSegments []*feature.Segment
	var otherErr error
	wg := &sync.WaitGroup{}

	// Act
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, cancelledErr = cache.SegmentsContaining(cancelledCtx, 2)
	}()
	time.Sleep(20 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		otherSegments, otherErr = cache.SegmentsContaining(context.Background(), 2)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(src.reverseGate)
	wg.Wait()

	// Assert
	util.AssertErrorIs(t, context.Canceled, cancelledErr)
	util.AssertNil(t, otherErr)
	util.AssertEqual(t, 2, len(otherSegments))
	util.AssertEqual(t, 1, src.callsOf("segments:node/2"))
}

func TestCache_segmentsContainingErrorDoesNotMarkComplete(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.failing[2] = true
	cache := NewCache(src, 2)

	// Act
	_, firstErr := cache.SegmentsContaining(context.Background(), 2)
	src.failing[2] = false
	segments, secondErr := cache.SegmentsContaining(context.Background(), 2)

	// Assert
	util.AssertNotNil(t, firstErr)
	util.AssertNil(t, secondErr)
	util.AssertEqual(t, 2, len(segments))
	util.AssertEqual(t, 2, src.callsOf("segments:node/2"))
}

func TestCache_relationsReferencing(t *testing.T) {
	// Arrange
	src := newFakeSource()
	cache := NewCache(src, 2)

	// Act
	ofNode, nodeErr := cache.RelationsReferencing(context.Background(), osm.NodeID(2).FeatureID())
	ofWay, wayErr := cache.RelationsReferencing(context.Background(), osm.WayID(20).FeatureID())
	ofOtherNode, otherErr := cache.RelationsReferencing(context.Background(), osm.NodeID(1).FeatureID())
	_, _ = cache.RelationsReferencing(context.Background(), osm.NodeID(2).FeatureID())

	// Assert
	util.AssertNil(t, nodeErr)
	util.AssertNil(t, wayErr)
	util.AssertNil(t, otherErr)
	util.AssertEqual(t, 1, len(ofNode))
	util.AssertEqual(t, osm.RelationID(100), ofNode[0].GetID())
	util.AssertEqual(t, 1, len(ofWay))
	util.AssertEqual(t, 0, len(ofOtherNode))
	util.AssertEqual(t, 1, src.callsOf("relations:node/2"))
}

func TestCache_storeBuildsReverseIndices(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.fullyLoaded = true
	cache := NewCache(src, 2)

	// Act
	cache.Store(feature.NewSegment(&osm.Way{ID: 30, Nodes: osm.WayNodes{{ID: 5}, {ID: 6}, {ID: 5}}}))
	cache.Store(feature.NewRelation(&osm.Relation{ID: 300, Members: osm.Members{{Type: osm.TypeWay, Ref: 30, Role: "from"}}}))
	cache.Store(nil)
	cache.Store((*feature.Point)(nil))

	// Assert
	segments, err := cache.SegmentsContaining(context.Background(), 5)
	util.AssertNil(t, err)
	util.AssertEqual(t, 1, len(segments))

	relations, err := cache.RelationsReferencing(context.Background(), osm.WayID(30).FeatureID())
	util.AssertNil(t, err)
	util.AssertEqual(t, 1, len(relations))

	util.AssertEqual(t, Stats{Points: 0, Segments: 1, Relations: 1}, cache.Stats())
	util.AssertEqual(t, 0, len(src.calls))
}

func TestCache_fullyLoadedSourceIsNotAsked(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.fullyLoaded = true
	cache := NewCache(src, 2)

	// Act
	point, err := cache.GetPoint(context.Background(), 1)
	_, lookupErr := cache.LookupPoint(context.Background(), 1)

	// Assert
	util.AssertNil(t, point)
	util.AssertNil(t, err)
	util.AssertErrorIs(t, ErrNotPresent, lookupErr)
	util.AssertEqual(t, 0, len(src.calls))
}

func TestCache_sinkStoresFeatures(t *testing.T) {
	// Arrange
	src := newFakeSource()
	cache := NewCache(src, 2)

	// Act
	src.sink(feature.NewPoint(&osm.Node{ID: 42}))
	point, err := cache.GetPoint(context.Background(), 42)

	// Assert
	util.AssertNil(t, err)
	util.AssertEqual(t, osm.NodeID(42), point.GetID())
	util.AssertEqual(t, 0, src.callsOf("node/42"))
}

func TestCache_getPoints(t *testing.T) {
	// Arrange
	src := newFakeSource()
	cache := NewCache(src, 2)
	_, _ = cache.GetPoint(context.Background(), 2)

	// Act
	points, err := cache.GetPoints(context.Background(), []osm.NodeID{3, 99, 2, 1})

	// Assert
	util.AssertNil(t, err)
	util.AssertEqual(t, 3, len(points))
	util.AssertEqual(t, osm.NodeID(3), points[0].GetID())
	util.AssertEqual(t, osm.NodeID(2), points[1].GetID())
	util.AssertEqual(t, osm.NodeID(1), points[2].GetID())
	util.AssertEqual(t, 1, src.callsOf("node/2"))
}

func TestCache_getPointsPropagatesFetchErrors(t *testing.T) {
	// Arrange
	src := newFakeSource()
	src.failing[3] = true
	cache := NewCache(src, 2)

	// Act
	points, err := cache.GetPoints(context.Background(), []osm.NodeID{1, 3})

	// Assert
	util.AssertNil(t, points)
	util.AssertNotNil(t, err)
}
