package feature

import (
	"github.com/paulmach/osm"
	"osmroute/util"
	"testing"
)

func TestDirection_parseOracle(t *testing.T) {
	expectations := map[string]Direction{
		"-1":         DirectionBackward,
		"1":          DirectionForward,
		"0":          DirectionNone,
		"yes":        DirectionForward,
		"YES":        DirectionForward,
		"true":       DirectionForward,
		"":           DirectionNone,
		"no":         DirectionNone,
		"false":      DirectionNone,
		"reverse":    DirectionBackward,
		"reversible": DirectionTimeDependent,
		"2.5":        DirectionForward,
	}

	for value, expectedDirection := range expectations {
		direction, ok := ParseDirection(value)
		util.AssertTrue(t, ok)
		if direction != expectedDirection {
			t.Errorf("Value '%s': expected %s but got %s", value, expectedDirection, direction)
		}
	}
}

func TestDirection_unrecognizedValueIsNone(t *testing.T) {
	// Act
	direction, ok := ParseDirection("alternating")

	// Assert
	util.AssertFalse(t, ok)
	util.AssertEqual(t, DirectionNone, direction)
}

func TestDirection_classifySegment(t *testing.T) {
	// Arrange
	withoutTag := NewSegment(&osm.Way{ID: 1, Tags: osm.Tags{{Key: "highway", Value: "primary"}}})
	backward := NewSegment(&osm.Way{ID: 2, Tags: osm.Tags{{Key: "oneway", Value: "-1"}}})
	unknown := NewSegment(&osm.Way{ID: 3, Tags: osm.Tags{{Key: "oneway", Value: "foo"}}})
	otherKey := NewSegment(&osm.Way{ID: 4, Tags: osm.Tags{{Key: "oneway:bicycle", Value: "yes"}}})

	// Act & Assert
	util.AssertEqual(t, DirectionNone, ClassifyDirection(withoutTag))
	util.AssertEqual(t, DirectionBackward, ClassifyDirection(backward))
	util.AssertEqual(t, DirectionNone, ClassifyDirection(unknown))
	util.AssertEqual(t, DirectionNone, ClassifyDirection(otherKey))
}

func TestDirection_allowedNeighbors(t *testing.T) {
	util.AssertTrue(t, DirectionNone.AllowsPrevious())
	util.AssertTrue(t, DirectionNone.AllowsNext())
	util.AssertFalse(t, DirectionForward.AllowsPrevious())
	util.AssertTrue(t, DirectionForward.AllowsNext())
	util.AssertTrue(t, DirectionBackward.AllowsPrevious())
	util.AssertFalse(t, DirectionBackward.AllowsNext())
	util.AssertTrue(t, DirectionTimeDependent.AllowsPrevious())
	util.AssertTrue(t, DirectionTimeDependent.AllowsNext())
}
