package feature

import (
	"github.com/paulmach/osm"
	"osmroute/util"
)

// TypeOf returns the OSM object type of the given feature.
func TypeOf(f Feature) osm.Type {
	switch f.(type) {
	case *Point:
		return osm.TypeNode
	case *Segment:
		return osm.TypeWay
	case *Relation:
		return osm.TypeRelation
	}
	util.LogFatalBug("Unknown feature type %T", f)
	return ""
}

// IsNil checks for nil interfaces as well as typed nil pointers inside the interface.
func IsNil(f Feature) bool {
	switch v := f.(type) {
	case nil:
		return true
	case *Point:
		return v == nil || v.Node == nil
	case *Segment:
		return v == nil || v.Way == nil
	case *Relation:
		return v == nil || v.Relation == nil
	}
	return true
}
