package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"osmroute/feature"
	"time"
)

const DefaultRedisKeyPrefix = "osmroute"

// RedisClient is the part of the go-redis client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache decorates a source and stores its answers in Redis. Answers are encoded as OSM XML documents, which keep
// the order of tags and members. Redis errors never fail a request, the wrapped source is asked instead.
type RedisCache struct {
	source Source
	client RedisClient
	ttl    time.Duration
	prefix string
}

func NewRedisCache(source Source, client RedisClient, ttl time.Duration) *RedisCache {
	return &RedisCache{
		source: source,
		client: client,
		ttl:    ttl,
		prefix: DefaultRedisKeyPrefix,
	}
}

// SetSink passes the sink to the wrapped source, if it supports one.
func (c *RedisCache) SetSink(sink Sink) {
	if sinkAware, ok := c.source.(SinkAware); ok {
		sinkAware.SetSink(sink)
	}
}

func (c *RedisCache) IsFullyLoaded() bool {
	return c.source.IsFullyLoaded()
}

func (c *RedisCache) FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	key := c.key(id.FeatureID(), "")
	if data := c.load(ctx, key); data != nil && len(data.Nodes) == 1 {
		return feature.NewPoint(data.Nodes[0]), nil
	}

	point, err := c.source.FetchPoint(ctx, id)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, &osm.OSM{Nodes: osm.Nodes{point.Node}})
	return point, nil
}

func (c *RedisCache) FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	key := c.key(id.FeatureID(), "")
	if data := c.load(ctx, key); data != nil && len(data.Ways) == 1 {
		return feature.NewSegment(data.Ways[0]), nil
	}

	segment, err := c.source.FetchSegment(ctx, id)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, &osm.OSM{Ways: osm.Ways{segment.Way}})
	return segment, nil
}

func (c *RedisCache) FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	key := c.key(id.FeatureID(), "")
	if data := c.load(ctx, key); data != nil && len(data.Relations) == 1 {
		return feature.NewRelation(data.Relations[0]), nil
	}

	relation, err := c.source.FetchRelation(ctx, id)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, &osm.OSM{Relations: osm.Relations{relation.Relation}})
	return relation, nil
}

func (c *RedisCache) FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	key := c.key(id.FeatureID(), "segments")
	if data := c.load(ctx, key); data != nil {
		segments := make([]*feature.Segment, 0, len(data.Ways))
		for _, way := range data.Ways {
			segments = append(segments, feature.NewSegment(way))
		}
		return segments, nil
	}

	segments, err := c.source.FetchSegmentsContaining(ctx, id)
	if err != nil {
		return nil, err
	}

	data := &osm.OSM{Ways: make(osm.Ways, 0, len(segments))}
	for _, segment := range segments {
		data.Ways = append(data.Ways, segment.Way)
	}
	c.store(ctx, key, data)

	return segments, nil
}

func (c *RedisCache) FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	key := c.key(id, "relations")
	if data := c.load(ctx, key); data != nil {
		relations := make([]*feature.Relation, 0, len(data.Relations))
		for _, relation := range data.Relations {
			relations = append(relations, feature.NewRelation(relation))
		}
		return relations, nil
	}

	relations, err := c.source.FetchRelationsReferencing(ctx, id)
	if err != nil {
		return nil, err
	}

	data := &osm.OSM{Relations: make(osm.Relations, 0, len(relations))}
	for _, relation := range relations {
		data.Relations = append(data.Relations, relation.Relation)
	}
	c.store(ctx, key, data)

	return relations, nil
}

func (c *RedisCache) key(id osm.FeatureID, query string) string {
	if query == "" {
		return fmt.Sprintf("%s:%s:%d", c.prefix, id.Type(), id.Ref())
	}
	return fmt.Sprintf("%s:%s:%d:%s", c.prefix, id.Type(), id.Ref(), query)
}

// load returns the cached document or nil when the key doesn't exist or Redis can't be used.
func (c *RedisCache) load(ctx context.Context, key string) *osm.OSM {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		sigolo.Tracef("Redis cache miss for %s", key)
		return nil
	}
	if err != nil {
		sigolo.Warnf("Unable to read %s from Redis: %v", key, err)
		return nil
	}

	data := &osm.OSM{}
	err = xml.Unmarshal(value, data)
	if err != nil {
		sigolo.Warnf("Unable to decode cached value of %s: %v", key, err)
		return nil
	}

	sigolo.Tracef("Redis cache hit for %s", key)
	return data
}

func (c *RedisCache) store(ctx context.Context, key string, data *osm.OSM) {
	value, err := xml.Marshal(data)
	if err != nil {
		sigolo.Warnf("Unable to encode %s for Redis: %v", key, err)
		return
	}

	err = c.client.Set(ctx, key, value, c.ttl).Err()
	if err != nil {
		sigolo.Warnf("Unable to write %s to Redis: %v", key, err)
	}
}
