package io

import (
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"io"
	"os"
	"osmroute/routing"
	"time"
)

// RouteToGeoJson creates a feature collection with the path as line string followed by all points along the path.
// Routes without a path result in an empty collection.
func RouteToGeoJson(route *routing.Route) *geojson.FeatureCollection {
	featureCollection := geojson.NewFeatureCollection()

	points := route.Points()
	if len(points) == 0 {
		return featureCollection
	}

	lineString := orb.LineString{}
	for _, point := range points {
		lineString = append(lineString, point.Location())
	}

	pathFeature := geojson.NewFeature(lineString)
	pathFeature.Properties["start"] = int64(route.Start())
	pathFeature.Properties["destination"] = int64(route.Destination())
	pathFeature.Properties["length"] = route.Cost()
	featureCollection.Append(pathFeature)

	for i, point := range points {
		pointFeature := geojson.NewFeature(point.Location())
		pointFeature.Properties["osm_id"] = int64(point.ID)
		pointFeature.Properties["index"] = i
		if elevation, ok := point.Elevation(); ok {
			pointFeature.Properties["ele"] = elevation
		}
		featureCollection.Append(pointFeature)
	}

	return featureCollection
}

func WriteRouteAsGeoJsonFile(route *routing.Route, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "Unable to create GeoJSON file %s", filename)
	}

	defer func() {
		err = file.Close()
		sigolo.FatalCheck(errors.Wrapf(err, "Unable to close file handle for GeoJSON file %s", file.Name()))
	}()

	return WriteRouteAsGeoJson(route, file)
}

func WriteRouteAsGeoJson(route *routing.Route, writer io.Writer) error {
	sigolo.Debug("Write route to GeoJSON")
	writeStartTime := time.Now()

	geojsonBytes, err := RouteToGeoJson(route).MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "Unable to marshal route to GeoJSON")
	}

	_, err = writer.Write(geojsonBytes)
	if err != nil {
		return errors.Wrap(err, "Unable to write GeoJSON")
	}

	sigolo.Debugf("Finished writing in %s", time.Since(writeStartTime))

	return nil
}
