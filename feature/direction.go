package feature

import (
	"fmt"
	"github.com/hauke96/sigolo/v2"
	"strconv"
	"strings"
)

// Direction describes in which order the nodes of a segment may be traversed.
type Direction int

const (
	DirectionNone          Direction = iota // Both directions are allowed.
	DirectionForward                        // Only in the order of the stored node list.
	DirectionBackward                       // Only against the order of the stored node list.
	DirectionTimeDependent                  // Changes over time, e.g. oneway=reversible.
)

func (d Direction) String() string {
	switch d {
	case DirectionNone:
		return "none"
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	case DirectionTimeDependent:
		return "time_dependent"
	}
	return fmt.Sprintf("[!UNKNOWN Direction %d]", d)
}

// AllowsPrevious returns true when the node before a node within the segment can be reached from that node. A time
// dependent direction is unknown without a time and is therefore handled like DirectionNone.
func (d Direction) AllowsPrevious() bool {
	return d != DirectionForward
}

// AllowsNext returns true when the node after a node within the segment can be reached from that node.
func (d Direction) AllowsNext() bool {
	return d != DirectionBackward
}

// ClassifyDirection determines the traversal direction of the segment based on its "oneway" tag. Only the exact key is
// considered, since keys like "oneway:bicycle" contain the key but have a different meaning.
func ClassifyDirection(segment *Segment) Direction {
	value := segment.Tags.Find("oneway")

	direction, ok := ParseDirection(value)
	if !ok {
		sigolo.Warnf("Found oneway tag on way %d, but couldn't parse it: '%s'", segment.ID, value)
	} else if sigolo.ShouldLogTrace() {
		sigolo.Tracef("Oneway value '%s' of way %d is %s", value, segment.ID, direction)
	}

	return direction
}

// ParseDirection parses a oneway value. The boolean is false for unrecognized values, which are treated as
// DirectionNone.
func ParseDirection(value string) (Direction, bool) {
	if value == "" {
		return DirectionNone, true
	}

	number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err == nil {
		if number < 0 {
			return DirectionBackward, true
		}
		if number > 0 {
			return DirectionForward, true
		}
		return DirectionNone, true
	}

	switch strings.ToLower(value) {
	case "yes", "true":
		return DirectionForward, true
	case "no", "false":
		return DirectionNone, true
	case "reverse":
		return DirectionBackward, true
	case "reversible":
		return DirectionTimeDependent, true
	}

	return DirectionNone, false
}
