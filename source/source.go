package source

import (
	"context"
	"fmt"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"osmroute/feature"
)

// ErrNotFound is returned (wrapped) when the requested feature doesn't exist upstream or has been deleted.
var ErrNotFound = errors.New("feature not found")

// Source provides features on demand. Implementations return an error wrapping ErrNotFound when a requested feature
// doesn't exist and a *FetchError when the request itself failed.
type Source interface {
	FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error)
	FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error)
	FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error)

	// FetchSegmentsContaining returns all segments having the given point in their node list.
	FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error)

	// FetchRelationsReferencing returns all relations having the given feature as member.
	FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error)

	// IsFullyLoaded is true when the source has already delivered its whole dataset, so asking it for anything that
	// hasn't been delivered yet is pointless.
	IsFullyLoaded() bool
}

// Sink receives features a source got in addition to (or together with) the requested ones.
type Sink func(f feature.Feature)

// SinkAware is implemented by sources that can pass on every feature they receive, e.g. the nodes of ways that are
// part of the same response.
type SinkAware interface {
	SetSink(sink Sink)
}

// FetchError is returned when requesting features failed, e.g. due to network or parsing errors.
type FetchError struct {
	Request string
	Err     error
}

func newFetchError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || isFetchError(err) {
		return err
	}
	return &FetchError{Request: fmt.Sprintf(format, args...), Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s failed: %v", e.Request, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Cause() error {
	return e.Err
}

func notFound(id osm.FeatureID) error {
	return errors.Wrapf(ErrNotFound, "%s", id.String())
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isFetchError(err error) bool {
	var fetchError *FetchError
	return errors.As(err, &fetchError)
}

// filterSegmentsContaining returns all segments from the given features containing the given node.
func filterSegmentsContaining(features []feature.Feature, id osm.NodeID) []*feature.Segment {
	var segments []*feature.Segment
	for _, f := range features {
		if segment, ok := f.(*feature.Segment); ok && segment.HasNode(id) {
			segments = append(segments, segment)
		}
	}
	return segments
}

// filterRelationsReferencing returns all relations from the given features having the given feature as member.
func filterRelationsReferencing(features []feature.Feature, id osm.FeatureID) []*feature.Relation {
	var relations []*feature.Relation
	for _, f := range features {
		if relation, ok := f.(*feature.Relation); ok && relation.HasMember(id) {
			relations = append(relations, relation)
		}
	}
	return relations
}

// findFeature returns the feature with the given ID or nil.
func findFeature(features []feature.Feature, id osm.FeatureID) feature.Feature {
	for _, f := range features {
		if f.FeatureID() == id {
			return f
		}
	}
	return nil
}
