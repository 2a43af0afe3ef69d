package restriction

import (
	"fmt"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"osmroute/feature"
	"strings"
)

var (
	ErrNotARestriction = errors.New("relation is not a restriction")
	ErrRoleMissing     = errors.New("restriction relation lacks a from, via or to member")
)

const (
	RoleFrom = "from"
	RoleVia  = "via"
	RoleTo   = "to"
)

// RelationType is the classification of a relation based on its "type" tag. Only the types relevant for routing are
// known, everything else is RelationTypeUnknown.
type RelationType int

const (
	RelationTypeUnknown RelationType = iota
	RelationTypeRestriction
)

func (t RelationType) String() string {
	switch t {
	case RelationTypeUnknown:
		return "unknown"
	case RelationTypeRestriction:
		return "restriction"
	}
	return fmt.Sprintf("[!UNKNOWN RelationType %d]", int(t))
}

// Classify returns the type of the relation. Missing or unrecognized "type" tags result in RelationTypeUnknown.
func Classify(relation *feature.Relation) RelationType {
	if relation == nil {
		return RelationTypeUnknown
	}

	value, ok := feature.TagValue(relation, "type")
	if !ok {
		return RelationTypeUnknown
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "restriction":
		return RelationTypeRestriction
	}
	return RelationTypeUnknown
}

// Relation is a view on a relation of type restriction. It doesn't own or copy the underlying relation.
type Relation struct {
	relation *feature.Relation
}

// AsRestriction returns the restriction view of the given relation or ErrNotARestriction when the relation is of any
// other type.
func AsRestriction(relation *feature.Relation) (*Relation, error) {
	if Classify(relation) != RelationTypeRestriction {
		if relation == nil {
			return nil, ErrNotARestriction
		}
		return nil, errors.Wrapf(ErrNotARestriction, "relation %d", relation.ID)
	}
	return &Relation{relation: relation}, nil
}

func (r *Relation) Relation() *feature.Relation {
	return r.relation
}

func (r *Relation) GetID() osm.RelationID {
	return r.relation.ID
}

func (r *Relation) From() (osm.Member, bool) {
	return r.member(RoleFrom)
}

func (r *Relation) Via() (osm.Member, bool) {
	return r.member(RoleVia)
}

func (r *Relation) To() (osm.Member, bool) {
	return r.member(RoleTo)
}

// member returns the member with the given role using the same matching precedence as tag keys.
func (r *Relation) member(role string) (osm.Member, bool) {
	members := r.relation.Members
	idx := feature.BestMatch(len(members), func(i int) string { return members[i].Role }, role)
	if idx == feature.NotFound {
		return osm.Member{}, false
	}
	return members[idx], true
}

// IsCommandment returns true for mandatory turns (e.g. "only_left_turn") and false for prohibitions (e.g.
// "no_u_turn").
func (r *Relation) IsCommandment() bool {
	value, _ := feature.TagValue(r.relation, "restriction")
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "only")
}

// Validate returns ErrRoleMissing when any of the from, via or to members can't be found.
func (r *Relation) Validate() error {
	for _, role := range []string{RoleFrom, RoleVia, RoleTo} {
		if _, ok := r.member(role); !ok {
			return errors.Wrapf(ErrRoleMissing, "relation %d has no '%s' member", r.relation.ID, role)
		}
	}
	return nil
}

func (r *Relation) String() string {
	kind := "prohibition"
	if r.IsCommandment() {
		kind = "commandment"
	}
	return fmt.Sprintf("restriction %d (%s)", r.relation.ID, kind)
}
