package web

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"net/http"
	"osmroute/graph"
	"osmroute/index"
	ownIo "osmroute/io"
	"osmroute/metrics"
	"osmroute/routing"
	"strconv"
	"time"
)

// statusClientClosedRequest is the non-standard status used when the client aborted the request.
const statusClientClosedRequest = 499

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func NewErrorResponse(message string, err error) ErrorResponse {
	response := ErrorResponse{
		Error: message,
	}
	if err != nil {
		response.Details = err.Error()
	}
	return response
}

type RouteResponse struct {
	ID          string       `json:"id"`
	Start       osm.NodeID   `json:"start"`
	Destination osm.NodeID   `json:"destination"`
	Found       bool         `json:"found"`
	State       string       `json:"state"`
	Length      float64      `json:"length"`
	Expansions  int          `json:"expansions"`
	Path        []osm.NodeID `json:"path"`
}

// SearchOptions are applied to every route computed by the server.
type SearchOptions struct {
	MaxExpansions int
	Timeout       time.Duration
}

type Server struct {
	cache    *index.Cache
	resolver *graph.Resolver
	options  SearchOptions
}

func NewServer(cache *index.Cache, options SearchOptions) *Server {
	return &Server{
		cache:    cache,
		resolver: graph.NewResolver(cache),
		options:  options,
	}
}

func (s *Server) Start(port int) error {
	sigolo.Infof("Start server on port %d", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), s.Router())
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/route", s.handleRoute).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleRoute(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Access-Control-Allow-Origin", "*")

	start, err := parseNodeId(request, "from")
	if err != nil {
		writeError(writer, http.StatusBadRequest, "Invalid start point", err)
		return
	}
	destination, err := parseNodeId(request, "to")
	if err != nil {
		writeError(writer, http.StatusBadRequest, "Invalid destination point", err)
		return
	}

	routeId, err := uuid.NewV4()
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "Unable to create route ID", err)
		return
	}
	sigolo.Infof("Route %s: compute route from %d to %d", routeId, start, destination)

	ctx := request.Context()
	if s.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.Timeout)
		defer cancel()
	}

	route := routing.NewRoute(s.resolver, s.cache, start, destination)
	route.SetMaxExpansions(s.options.MaxExpansions)

	found, err := route.Calc(ctx)
	if err != nil {
		sigolo.Errorf("Route %s: %+v", routeId, err)
		writeError(writer, statusOf(err), "Error computing route", err)
		return
	}
	sigolo.Infof("Route %s: %s", routeId, route.String())

	if request.URL.Query().Get("format") == "geojson" {
		writer.Header().Set("Content-Type", "application/geo+json")
		err = ownIo.WriteRouteAsGeoJson(route, writer)
		if err != nil {
			sigolo.Errorf("Route %s: error writing GeoJSON: %+v", routeId, err)
		}
		return
	}

	writeJson(writer, http.StatusOK, RouteResponse{
		ID:          routeId.String(),
		Start:       start,
		Destination: destination,
		Found:       found,
		State:       route.State().String(),
		Length:      route.Cost(),
		Expansions:  route.Expansions(),
		Path:        route.Path(),
	})
}

func parseNodeId(request *http.Request, parameter string) (osm.NodeID, error) {
	value := request.URL.Query().Get(parameter)
	if value == "" {
		return 0, errors.Errorf("Parameter '%s' missing", parameter)
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("Parameter '%s' must be a positive node ID but was '%s'", parameter, value)
	}

	return osm.NodeID(id), nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, index.ErrNotPresent):
		return http.StatusNotFound
	case errors.Is(err, routing.ErrSearchLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func writeError(writer http.ResponseWriter, status int, message string, err error) {
	writeJson(writer, status, NewErrorResponse(message, err))
}

func writeJson(writer http.ResponseWriter, status int, value interface{}) {
	responseBytes, err := json.Marshal(value)
	if err != nil {
		sigolo.Errorf("Error marshalling response object: %+v", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)

	_, err = writer.Write(responseBytes)
	if err != nil {
		sigolo.Errorf("Error writing response: %+v", err)
	}
}
