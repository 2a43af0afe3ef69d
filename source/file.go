package source

import (
	"compress/bzip2"
	"context"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"github.com/pkg/errors"
	"io"
	"os"
	"osmroute/feature"
	"strings"
	"sync/atomic"
	"time"
)

// File reads features from a local .osm, .osm.bz2 or .pbf file. After Load handed the whole file to a sink, the
// source is fully loaded and doesn't read the file again. Before that, every fetch scans the file.
type File struct {
	path   string
	loaded atomic.Bool
}

// LoadStats contains the number of features read from a file.
type LoadStats struct {
	Points    int
	Segments  int
	Relations int
	Duration  time.Duration
}

func NewFile(path string) (*File, error) {
	if !isSupportedFile(path) {
		return nil, errors.Errorf("Input file %s must be an .osm, .osm.bz2 or .pbf file", path)
	}
	return &File{path: path}, nil
}

func isSupportedFile(path string) bool {
	return strings.HasSuffix(path, ".osm") || strings.HasSuffix(path, ".osm.bz2") || strings.HasSuffix(path, ".pbf")
}

func (f *File) Path() string {
	return f.path
}

func (f *File) IsFullyLoaded() bool {
	return f.loaded.Load()
}

// Load passes every feature of the file to the sink and marks the source as fully loaded afterward.
func (f *File) Load(ctx context.Context, sink Sink) (LoadStats, error) {
	sigolo.Infof("Start reading OSM data file %s", f.path)
	startTime := time.Now()

	stats := LoadStats{}
	err := f.scan(ctx, func(obj feature.Feature) bool {
		switch feature.TypeOf(obj) {
		case osm.TypeNode:
			stats.Points++
		case osm.TypeWay:
			stats.Segments++
		case osm.TypeRelation:
			stats.Relations++
		}
		sink(obj)
		return true
	})
	if err != nil {
		return stats, err
	}

	f.loaded.Store(true)
	stats.Duration = time.Since(startTime)
	sigolo.Infof("Read %d points, %d segments and %d relations from %s in %s", stats.Points, stats.Segments, stats.Relations, f.path, stats.Duration)

	return stats, nil
}

func (f *File) FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	result, err := f.fetchFeature(ctx, id.FeatureID())
	if err != nil {
		return nil, err
	}
	return result.(*feature.Point), nil
}

func (f *File) FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	result, err := f.fetchFeature(ctx, id.FeatureID())
	if err != nil {
		return nil, err
	}
	return result.(*feature.Segment), nil
}

func (f *File) FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	result, err := f.fetchFeature(ctx, id.FeatureID())
	if err != nil {
		return nil, err
	}
	return result.(*feature.Relation), nil
}

func (f *File) FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	if f.IsFullyLoaded() {
		return nil, nil
	}

	var segments []*feature.Segment
	err := f.scan(ctx, func(obj feature.Feature) bool {
		if segment, ok := obj.(*feature.Segment); ok && segment.HasNode(id) {
			segments = append(segments, segment)
		}
		return true
	})
	if err != nil {
		return nil, newFetchError(err, "segments of node %d", id)
	}
	return segments, nil
}

func (f *File) FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	if f.IsFullyLoaded() {
		return nil, nil
	}

	var relations []*feature.Relation
	err := f.scan(ctx, func(obj feature.Feature) bool {
		if relation, ok := obj.(*feature.Relation); ok && relation.HasMember(id) {
			relations = append(relations, relation)
		}
		return true
	})
	if err != nil {
		return nil, newFetchError(err, "relations of %s", id.String())
	}
	return relations, nil
}

func (f *File) fetchFeature(ctx context.Context, id osm.FeatureID) (feature.Feature, error) {
	if f.IsFullyLoaded() {
		return nil, notFound(id)
	}

	var result feature.Feature
	err := f.scan(ctx, func(obj feature.Feature) bool {
		if obj.FeatureID() == id {
			result = obj
			return false
		}
		return true
	})
	if err != nil {
		return nil, newFetchError(err, "%s", id.String())
	}
	if result == nil {
		return nil, notFound(id)
	}
	return result, nil
}

// scan reads the file and calls the handler for each feature until the handler returns false.
func (f *File) scan(ctx context.Context, handler func(obj feature.Feature) bool) error {
	file, err := os.Open(f.path)
	if err != nil {
		return errors.Wrapf(err, "Unable to open OSM input file %s", f.path)
	}
	defer file.Close()

	scanner := newScanner(ctx, f.path, file)
	defer scanner.Close()

	for scanner.Scan() {
		obj := feature.FromObject(scanner.Object())
		if obj == nil {
			continue
		}
		if !handler(obj) {
			return nil
		}
	}

	return errors.Wrapf(scanner.Err(), "Unable to read OSM data from %s", f.path)
}

func newScanner(ctx context.Context, path string, reader io.Reader) osm.Scanner {
	switch {
	case strings.HasSuffix(path, ".pbf"):
		return osmpbf.New(ctx, reader, 1)
	case strings.HasSuffix(path, ".bz2"):
		return osmxml.New(ctx, bzip2.NewReader(reader))
	default:
		return osmxml.New(ctx, reader)
	}
}
