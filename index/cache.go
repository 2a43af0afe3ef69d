package index

import (
	"context"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"osmroute/feature"
	"osmroute/metrics"
	"osmroute/source"
	"sort"
	"sync"
	"time"
)

const DefaultParallelism = 4

// ErrNotPresent is returned (wrapped) by the Lookup functions when a feature neither is cached nor exists in the
// source.
var ErrNotPresent = errors.New("feature not present")

var (
	cachedPointsGauge    = metrics.CachedFeatures.WithLabelValues("point")
	cachedSegmentsGauge  = metrics.CachedFeatures.WithLabelValues("segment")
	cachedRelationsGauge = metrics.CachedFeatures.WithLabelValues("relation")
)

// Cache holds all features fetched from a source together with two reverse indices (point to segments, feature to
// relations). A reverse index entry of a point/feature is complete once all segments/relations referencing it have
// been fetched. Completeness flags are never unset. The cache can be used in concurrent goroutines and only fetches
// each key once at a time.
type Cache struct {
	source      source.Source
	parallelism int

	mutex              *sync.RWMutex
	points             map[osm.NodeID]*feature.Point
	segments           map[osm.WayID]*feature.Segment
	relations          map[osm.RelationID]*feature.Relation
	segmentsOfPoint    map[osm.NodeID]map[osm.WayID]struct{}
	relationsOfFeature map[osm.FeatureID]map[osm.RelationID]struct{}
	segmentsComplete   map[osm.NodeID]bool
	relationsComplete  map[osm.FeatureID]bool

	fetches singleflight.Group
}

type Stats struct {
	Points    int
	Segments  int
	Relations int
}

// NewCache creates an empty cache using the given source. When the source supports a sink, all features it receives
// are stored in this cache.
func NewCache(src source.Source, parallelism int) *Cache {
	if parallelism < 1 {
		parallelism = DefaultParallelism
	}

	cache := &Cache{
		source:             src,
		parallelism:        parallelism,
		mutex:              &sync.RWMutex{},
		points:             map[osm.NodeID]*feature.Point{},
		segments:           map[osm.WayID]*feature.Segment{},
		relations:          map[osm.RelationID]*feature.Relation{},
		segmentsOfPoint:    map[osm.NodeID]map[osm.WayID]struct{}{},
		relationsOfFeature: map[osm.FeatureID]map[osm.RelationID]struct{}{},
		segmentsComplete:   map[osm.NodeID]bool{},
		relationsComplete:  map[osm.FeatureID]bool{},
	}

	if sinkAware, ok := src.(source.SinkAware); ok {
		sinkAware.SetSink(cache.Store)
	}

	return cache
}

// GetPoint returns the point with the given ID, fetching it if needed. Points that don't exist and points that couldn't
// be fetched result in (nil, nil). Only a done context results in an error.
func (c *Cache) GetPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	point, err := c.LookupPoint(ctx, id)
	return point, c.degrade(ctx, id.FeatureID(), err)
}

func (c *Cache) GetSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	segment, err := c.LookupSegment(ctx, id)
	return segment, c.degrade(ctx, id.FeatureID(), err)
}

func (c *Cache) GetRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	relation, err := c.LookupRelation(ctx, id)
	return relation, c.degrade(ctx, id.FeatureID(), err)
}

func (c *Cache) degrade(ctx context.Context, id osm.FeatureID, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrNotPresent) {
		sigolo.Debugf("Feature %s not present", id.String())
	} else {
		sigolo.Errorf("Unable to get feature %s: %+v", id.String(), err)
	}
	return nil
}

// LookupPoint is like GetPoint but returns an error wrapping ErrNotPresent for points that don't exist and the fetch
// error when fetching failed.
func (c *Cache) LookupPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	return lookup(ctx, c, "point", id.FeatureID(),
		func() (*feature.Point, bool) {
			point, ok := c.points[id]
			return point, ok
		},
		func(ctx context.Context) (*feature.Point, error) {
			return c.source.FetchPoint(ctx, id)
		})
}

func (c *Cache) LookupSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	return lookup(ctx, c, "segment", id.FeatureID(),
		func() (*feature.Segment, bool) {
			segment, ok := c.segments[id]
			return segment, ok
		},
		func(ctx context.Context) (*feature.Segment, error) {
			return c.source.FetchSegment(ctx, id)
		})
}

func (c *Cache) LookupRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	return lookup(ctx, c, "relation", id.FeatureID(),
		func() (*feature.Relation, bool) {
			relation, ok := c.relations[id]
			return relation, ok
		},
		func(ctx context.Context) (*feature.Relation, error) {
			return c.source.FetchRelation(ctx, id)
		})
}

// lookup returns the cached feature or fetches, stores and returns it. The cached function is called with the read lock
// held.
func lookup[F feature.Feature](ctx context.Context, c *Cache, kind string, id osm.FeatureID, cached func() (F, bool), fetch func(ctx context.Context) (F, error)) (F, error) {
	var empty F

	c.mutex.RLock()
	f, ok := cached()
	c.mutex.RUnlock()
	if ok {
		metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
		return f, nil
	}
	metrics.CacheMissesTotal.WithLabelValues(kind).Inc()

	if c.source.IsFullyLoaded() {
		return empty, errors.Wrapf(ErrNotPresent, "%s", id.String())
	}

	result, err := c.fetchShared(ctx, id.String(), func(ctx context.Context) (interface{}, error) {
		c.mutex.RLock()
		f, ok := cached()
		c.mutex.RUnlock()
		if ok {
			return f, nil
		}

		startTime := time.Now()
		f, err := fetch(ctx)
		observeFetch(kind, startTime, err)
		if err != nil {
			return nil, err
		}

		c.Store(f)
		return f, nil
	})
	if source.IsNotFound(err) {
		return empty, errors.Wrapf(ErrNotPresent, "%s", id.String())
	}
	if err != nil {
		return empty, errors.Wrapf(err, "Unable to fetch %s", id.String())
	}

	return result.(F), nil
}

// fetchShared runs at most one fetch per key at a time. The fetch is detached from the cancellation of the caller that
// started it and each caller stops waiting as soon as its own context is done.
func (c *Cache) fetchShared(ctx context.Context, key string, fetch func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	fetchCtx := context.WithoutCancel(ctx)
	resultChan := c.fetches.DoChan(key, func() (interface{}, error) {
		return fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.Val, result.Err
	}
}

func observeFetch(kind string, startTime time.Time, err error) {
	result := "ok"
	if source.IsNotFound(err) {
		result = "not_found"
	} else if err != nil {
		result = "error"
	}
	metrics.FetchesTotal.WithLabelValues(kind, result).Inc()
	metrics.FetchDurationMs.WithLabelValues(kind).Observe(float64(time.Since(startTime).Milliseconds()))
}

// GetPoints returns the points with the given IDs in the given order. Missing points are fetched concurrently and
// points that don't exist are left out. Fetch errors are returned.
func (c *Cache) GetPoints(ctx context.Context, ids []osm.NodeID) ([]*feature.Point, error) {
	points := make([]*feature.Point, len(ids))
	var missingIndices []int

	c.mutex.RLock()
	for i, id := range ids {
		if point, ok := c.points[id]; ok {
			points[i] = point
		} else {
			missingIndices = append(missingIndices, i)
		}
	}
	c.mutex.RUnlock()

	if len(missingIndices) > 0 {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(c.parallelism)

		for _, i := range missingIndices {
			i := i
			group.Go(func() error {
				point, err := c.LookupPoint(groupCtx, ids[i])
				if errors.Is(err, ErrNotPresent) {
					sigolo.Debugf("Point %d not present, skip it", ids[i])
					return nil
				}
				if err != nil {
					return err
				}
				points[i] = point
				return nil
			})
		}

		err := group.Wait()
		if err != nil {
			return nil, err
		}
	}

	result := make([]*feature.Point, 0, len(points))
	for _, point := range points {
		if point != nil {
			result = append(result, point)
		}
	}
	return result, nil
}

// SegmentsContaining returns all segments containing the given point ordered by ID. The segments are fetched once per
// point, afterward the reverse index answers the request.
func (c *Cache) SegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	c.mutex.RLock()
	complete := c.segmentsComplete[id]
	c.mutex.RUnlock()

	if complete || c.source.IsFullyLoaded() {
		metrics.CacheHitsTotal.WithLabelValues("segments_of_point").Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues("segments_of_point").Inc()

		_, err := c.fetchShared(ctx, "segments:"+id.FeatureID().String(), func(ctx context.Context) (interface{}, error) {
			c.mutex.RLock()
			complete := c.segmentsComplete[id]
			c.mutex.RUnlock()
			if complete {
				return nil, nil
			}

			startTime := time.Now()
			segments, err := c.source.FetchSegmentsContaining(ctx, id)
			observeFetch("segments_of_point", startTime, err)
			if err != nil && !source.IsNotFound(err) {
				return nil, err
			}

			c.mutex.Lock()
			defer c.mutex.Unlock()
			for _, segment := range segments {
				c.storeUnsafe(segment)
			}
			c.segmentsComplete[id] = true
			c.updateGauges()

			return nil, nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to fetch segments of node %d", id)
		}
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	segments := make([]*feature.Segment, 0, len(c.segmentsOfPoint[id]))
	for segmentId := range c.segmentsOfPoint[id] {
		if segment, ok := c.segments[segmentId]; ok {
			segments = append(segments, segment)
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].ID < segments[j].ID
	})

	return segments, nil
}

// RelationsReferencing returns all relations having the given feature as member ordered by ID. The relations are
// fetched once per feature, afterward the reverse index answers the request.
func (c *Cache) RelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	c.mutex.RLock()
	complete := c.relationsComplete[id]
	c.mutex.RUnlock()

	if complete || c.source.IsFullyLoaded() {
		metrics.CacheHitsTotal.WithLabelValues("relations_of_feature").Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues("relations_of_feature").Inc()

		_, err := c.fetchShared(ctx, "relations:"+id.String(), func(ctx context.Context) (interface{}, error) {
			c.mutex.RLock()
			complete := c.relationsComplete[id]
			c.mutex.RUnlock()
			if complete {
				return nil, nil
			}

			startTime := time.Now()
			relations, err := c.source.FetchRelationsReferencing(ctx, id)
			observeFetch("relations_of_feature", startTime, err)
			if err != nil && !source.IsNotFound(err) {
				return nil, err
			}

			c.mutex.Lock()
			defer c.mutex.Unlock()
			for _, relation := range relations {
				c.storeUnsafe(relation)
			}
			c.relationsComplete[id] = true
			c.updateGauges()

			return nil, nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to fetch relations of %s", id.String())
		}
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	relations := make([]*feature.Relation, 0, len(c.relationsOfFeature[id]))
	for relationId := range c.relationsOfFeature[id] {
		if relation, ok := c.relations[relationId]; ok {
			relations = append(relations, relation)
		}
	}
	sort.Slice(relations, func(i, j int) bool {
		return relations[i].ID < relations[j].ID
	})

	return relations, nil
}

// Store adds the given feature and its reverse index entries. An existing feature with the same ID is replaced.
func (c *Cache) Store(f feature.Feature) {
	if feature.IsNil(f) {
		sigolo.Debugf("Ignore storing nil feature")
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.storeUnsafe(f)
	c.updateGauges()
}

// storeUnsafe is the core functionality of Store. This function does NOT use locking.
func (c *Cache) storeUnsafe(f feature.Feature) {
	switch f := f.(type) {
	case *feature.Point:
		c.points[f.ID] = f
	case *feature.Segment:
		c.segments[f.ID] = f
		for _, node := range f.Nodes {
			if _, ok := c.segmentsOfPoint[node.ID]; !ok {
				c.segmentsOfPoint[node.ID] = map[osm.WayID]struct{}{}
			}
			c.segmentsOfPoint[node.ID][f.ID] = struct{}{}
		}
	case *feature.Relation:
		c.relations[f.ID] = f
		for _, member := range f.Members {
			memberId := member.FeatureID()
			if _, ok := c.relationsOfFeature[memberId]; !ok {
				c.relationsOfFeature[memberId] = map[osm.RelationID]struct{}{}
			}
			c.relationsOfFeature[memberId][f.ID] = struct{}{}
		}
	}
}

// updateGauges does NOT use locking.
func (c *Cache) updateGauges() {
	cachedPointsGauge.Set(float64(len(c.points)))
	cachedSegmentsGauge.Set(float64(len(c.segments)))
	cachedRelationsGauge.Set(float64(len(c.relations)))
}

func (c *Cache) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Stats{
		Points:    len(c.points),
		Segments:  len(c.segments),
		Relations: len(c.relations),
	}
}

// Source returns the source this cache fetches missing features from.
func (c *Cache) Source() source.Source {
	return c.source
}
