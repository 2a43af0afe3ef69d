package source

import (
	"context"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmapi"
	"github.com/pkg/errors"
	"net/http"
	"osmroute/feature"
	"time"
)

const DefaultOsmAPIURL = "https://api.openstreetmap.org/api/0.6"

// OsmAPI fetches features from the OSM API v0.6. Deleted features (410) are treated like missing ones (404).
type OsmAPI struct {
	datasource *osmapi.Datasource
	retry      retryPolicy
}

func NewOsmAPI(baseURL string, client *http.Client) *OsmAPI {
	if baseURL == "" {
		baseURL = DefaultOsmAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}

	return &OsmAPI{
		datasource: &osmapi.Datasource{
			BaseURL: baseURL,
			Client:  client,
		},
		retry: newRetryPolicy(DefaultAttempts, DefaultRetryDelay),
	}
}

// WithRetry changes the number of attempts and the delay between two attempts.
func (a *OsmAPI) WithRetry(attempts int, delay time.Duration) *OsmAPI {
	a.retry = newRetryPolicy(attempts, delay)
	return a
}

func (a *OsmAPI) IsFullyLoaded() bool {
	return false
}

func (a *OsmAPI) FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	var node *osm.Node
	err := a.retry.do(ctx, id.FeatureID().String(), func() error {
		var err error
		node, err = a.datasource.Node(ctx, id)
		return a.classify(err, id.FeatureID())
	})
	if err != nil {
		return nil, newFetchError(err, "%s", id.FeatureID().String())
	}
	return feature.NewPoint(node), nil
}

func (a *OsmAPI) FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	var way *osm.Way
	err := a.retry.do(ctx, id.FeatureID().String(), func() error {
		var err error
		way, err = a.datasource.Way(ctx, id)
		return a.classify(err, id.FeatureID())
	})
	if err != nil {
		return nil, newFetchError(err, "%s", id.FeatureID().String())
	}
	return feature.NewSegment(way), nil
}

func (a *OsmAPI) FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	var relation *osm.Relation
	err := a.retry.do(ctx, id.FeatureID().String(), func() error {
		var err error
		relation, err = a.datasource.Relation(ctx, id)
		return a.classify(err, id.FeatureID())
	})
	if err != nil {
		return nil, newFetchError(err, "%s", id.FeatureID().String())
	}
	return feature.NewRelation(relation), nil
}

func (a *OsmAPI) FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	var ways osm.Ways
	err := a.retry.do(ctx, "ways of "+id.FeatureID().String(), func() error {
		var err error
		ways, err = a.datasource.NodeWays(ctx, id)
		return a.classify(err, id.FeatureID())
	})
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newFetchError(err, "segments of node %d", id)
	}

	var segments []*feature.Segment
	for _, way := range ways {
		segment := feature.NewSegment(way)
		if segment.HasNode(id) {
			segments = append(segments, segment)
		}
	}
	return segments, nil
}

func (a *OsmAPI) FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	var relations osm.Relations
	err := a.retry.do(ctx, "relations of "+id.String(), func() error {
		var err error
		switch id.Type() {
		case osm.TypeNode:
			relations, err = a.datasource.NodeRelations(ctx, osm.NodeID(id.Ref()))
		case osm.TypeWay:
			relations, err = a.datasource.WayRelations(ctx, osm.WayID(id.Ref()))
		case osm.TypeRelation:
			relations, err = a.datasource.RelationRelations(ctx, osm.RelationID(id.Ref()))
		default:
			return errors.Errorf("Unsupported feature type %s of %s", id.Type(), id.String())
		}
		return a.classify(err, id)
	})
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newFetchError(err, "relations of %s", id.String())
	}

	var result []*feature.Relation
	for _, relation := range relations {
		r := feature.NewRelation(relation)
		if r.HasMember(id) {
			result = append(result, r)
		}
	}
	return result, nil
}

// classify maps the error types of the osmapi package onto not-found and retryable errors.
func (a *OsmAPI) classify(err error, id osm.FeatureID) error {
	if err == nil {
		return nil
	}

	var notFoundErr *osmapi.NotFoundError
	var goneErr *osmapi.GoneError
	if errors.As(err, &notFoundErr) || errors.As(err, &goneErr) {
		return notFound(id)
	}

	var statusErr *osmapi.UnexpectedStatusCodeError
	if errors.As(err, &statusErr) && isRetryableStatus(statusErr.Code) {
		return &retryableError{err: err}
	}

	return err
}
