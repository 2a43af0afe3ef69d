package feature

import (
	"fmt"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"strconv"
	"strings"
)

// Feature is the closed set of OSM objects the router works with. It's implemented by *Point, *Segment and *Relation
// only, which allows exhaustive type switches wherever features are stored or classified.
type Feature interface {
	FeatureID() osm.FeatureID
	GetTags() osm.Tags
	isFeature()
}

// Point is a located OSM node.
type Point struct {
	*osm.Node
}

func NewPoint(node *osm.Node) *Point {
	if node == nil {
		return nil
	}
	return &Point{Node: node}
}

func (p *Point) GetID() osm.NodeID {
	return p.ID
}

func (p *Point) GetTags() osm.Tags {
	return p.Tags
}

func (p *Point) Location() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Elevation returns the value of the "ele" tag in metres. The boolean is false when the tag is not set or can't be
// parsed as number.
func (p *Point) Elevation() (float64, bool) {
	value := strings.TrimSpace(p.Tags.Find("ele"))
	if value == "" {
		return 0, false
	}

	// Values like "12 m" are common, only the number prefix is relevant.
	value = strings.TrimSuffix(value, "m")
	elevation, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		sigolo.Warnf("Unable to parse elevation '%s' of node %d", p.Tags.Find("ele"), p.ID)
		return 0, false
	}

	return elevation, true
}

func (p *Point) String() string {
	return fmt.Sprintf("node %d (%f, %f)", p.ID, p.Lat, p.Lon)
}

func (p *Point) isFeature() {}

// Segment is an OSM way. The node list is ordered and may contain the same node more than once (e.g. closed ways).
type Segment struct {
	*osm.Way
}

func NewSegment(way *osm.Way) *Segment {
	if way == nil {
		return nil
	}
	return &Segment{Way: way}
}

func (s *Segment) GetID() osm.WayID {
	return s.ID
}

func (s *Segment) GetTags() osm.Tags {
	return s.Tags
}

func (s *Segment) NodeIDs() []osm.NodeID {
	ids := make([]osm.NodeID, len(s.Nodes))
	for i, node := range s.Nodes {
		ids[i] = node.ID
	}
	return ids
}

func (s *Segment) HasNode(id osm.NodeID) bool {
	for _, node := range s.Nodes {
		if node.ID == id {
			return true
		}
	}
	return false
}

func (s *Segment) String() string {
	return fmt.Sprintf("way %d", s.ID)
}

func (s *Segment) isFeature() {}

// Relation is an OSM relation with its ordered member list.
type Relation struct {
	*osm.Relation
}

func NewRelation(relation *osm.Relation) *Relation {
	if relation == nil {
		return nil
	}
	return &Relation{Relation: relation}
}

func (r *Relation) GetID() osm.RelationID {
	return r.ID
}

func (r *Relation) GetTags() osm.Tags {
	return r.Tags
}

// HasMember returns true when the given feature is referenced by any member, regardless of the role.
func (r *Relation) HasMember(id osm.FeatureID) bool {
	for _, member := range r.Members {
		if member.FeatureID() == id {
			return true
		}
	}
	return false
}

func (r *Relation) String() string {
	return fmt.Sprintf("relation %d", r.ID)
}

func (r *Relation) isFeature() {}

// FromObject converts a scanned OSM object into a feature. Objects of other types (changesets, notes, bounds, ...) are
// ignored and nil is returned.
func FromObject(object osm.Object) Feature {
	switch o := object.(type) {
	case *osm.Node:
		return NewPoint(o)
	case *osm.Way:
		return NewSegment(o)
	case *osm.Relation:
		return NewRelation(o)
	}
	return nil
}
