package source

import (
	"context"
	"fmt"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"net/url"
	"osmroute/feature"
	"strings"
	"time"
)

const (
	DefaultOverpassURL     = "https://overpass-api.de/api/"
	OverpassRequestTimeout = 25
)

// QueryError is returned when the Overpass API didn't accept a query. The body contains the explanation of the
// server.
type QueryError struct {
	StatusCode int
	Body       string
}

func (e *QueryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("overpass request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("overpass request failed with status %d: %s", e.StatusCode, e.Body)
}

// Overpass fetches features from an Overpass API instance. All features contained in a response are passed to the
// sink (if set), even when only a part of them has been requested.
type Overpass struct {
	endpoint string
	client   *http.Client
	retry    retryPolicy
	sink     Sink
}

func NewOverpass(endpoint string, client *http.Client) *Overpass {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: (OverpassRequestTimeout + 5) * time.Second}
	}

	return &Overpass{
		endpoint: endpoint,
		client:   client,
		retry:    newRetryPolicy(DefaultAttempts, DefaultRetryDelay),
	}
}

// WithRetry changes the number of attempts and the delay between two attempts.
func (o *Overpass) WithRetry(attempts int, delay time.Duration) *Overpass {
	o.retry = newRetryPolicy(attempts, delay)
	return o
}

func (o *Overpass) SetSink(sink Sink) {
	o.sink = sink
}

func (o *Overpass) IsFullyLoaded() bool {
	return false
}

func (o *Overpass) FetchPoint(ctx context.Context, id osm.NodeID) (*feature.Point, error) {
	f, err := o.fetchFeature(ctx, id.FeatureID())
	if err != nil {
		return nil, err
	}
	return f.(*feature.Point), nil
}

func (o *Overpass) FetchSegment(ctx context.Context, id osm.WayID) (*feature.Segment, error) {
	f, err := o.fetchFeature(ctx, id.FeatureID())
	if err != nil {
		return nil, err
	}
	return f.(*feature.Segment), nil
}

func (o *Overpass) FetchRelation(ctx context.Context, id osm.RelationID) (*feature.Relation, error) {
	f, err := o.fetchFeature(ctx, id.FeatureID())
	if err != nil {
		return nil, err
	}
	return f.(*feature.Relation), nil
}

func (o *Overpass) FetchSegmentsContaining(ctx context.Context, id osm.NodeID) ([]*feature.Segment, error) {
	features, err := o.query(ctx, fmt.Sprintf("node(%d);<;", id))
	if err != nil {
		return nil, newFetchError(err, "segments of node %d", id)
	}
	return filterSegmentsContaining(features, id), nil
}

func (o *Overpass) FetchRelationsReferencing(ctx context.Context, id osm.FeatureID) ([]*feature.Relation, error) {
	features, err := o.query(ctx, fmt.Sprintf("%s(%d);<;", id.Type(), id.Ref()))
	if err != nil {
		return nil, newFetchError(err, "relations of %s", id.String())
	}
	return filterRelationsReferencing(features, id), nil
}

func (o *Overpass) fetchFeature(ctx context.Context, id osm.FeatureID) (feature.Feature, error) {
	features, err := o.query(ctx, fmt.Sprintf("%s(%d);", id.Type(), id.Ref()))
	if err != nil {
		return nil, newFetchError(err, "%s", id.String())
	}

	f := findFeature(features, id)
	if f == nil {
		return nil, notFound(id)
	}
	return f, nil
}

// query executes the given Overpass QL statements and returns all features of the response.
func (o *Overpass) query(ctx context.Context, script string) ([]feature.Feature, error) {
	fullScript := fmt.Sprintf("[out:xml][timeout:%d];(%s);out meta;>;out meta qt;", OverpassRequestTimeout, script)

	var features []feature.Feature
	err := o.retry.do(ctx, "overpass query "+script, func() error {
		var err error
		features, err = o.queryOnce(ctx, fullScript)
		return err
	})
	if err != nil {
		return nil, err
	}

	if o.sink != nil {
		for _, f := range features {
			o.sink(f)
		}
	}

	return features, nil
}

func (o *Overpass) queryOnce(ctx context.Context, fullScript string) ([]feature.Feature, error) {
	form := url.Values{"data": {fullScript}}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"interpreter", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create Overpass request")
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	sigolo.Tracef("Overpass query: %s", fullScript)
	response, err := o.client.Do(request)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to request Overpass API at %s", o.endpoint)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 64*1024))
		queryErr := &QueryError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(body))}
		if isRetryableStatus(response.StatusCode) {
			return nil, &retryableError{err: queryErr}
		}
		return nil, queryErr
	}

	scanner := osmxml.New(ctx, response.Body)
	defer scanner.Close()

	var features []feature.Feature
	for scanner.Scan() {
		if f := feature.FromObject(scanner.Object()); f != nil {
			features = append(features, f)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "Unable to parse Overpass response")
	}

	sigolo.Tracef("Overpass response contained %d features", len(features))
	return features, nil
}
