package feature

import (
	"github.com/paulmach/osm"
	"strings"
)

const NotFound = -1

// TagValue returns the value of the given key. An exact key match always wins. When there is none, the first key
// matching case-insensitively is used and after that the first key containing the requested key (case-insensitive).
func TagValue(f Feature, key string) (string, bool) {
	return TagsValue(f.GetTags(), key)
}

func TagsValue(tags osm.Tags, key string) (string, bool) {
	idx := BestMatch(len(tags), func(i int) string { return tags[i].Key }, key)
	if idx == NotFound {
		return "", false
	}
	return tags[idx].Value, true
}

// BestMatch returns the index of the name matching the wanted string best or NotFound when nothing matches. The
// precedence is: exact match, case-insensitive match, case-insensitive substring match. Within one of these tiers the
// first match wins, except for the exact match which ends the search immediately.
func BestMatch(n int, nameAt func(i int) string, wanted string) int {
	lowerWanted := strings.ToLower(wanted)
	caseInsensitiveMatch := NotFound
	substringMatch := NotFound

	for i := 0; i < n; i++ {
		name := nameAt(i)
		if name == wanted {
			return i
		}

		if caseInsensitiveMatch == NotFound && strings.EqualFold(name, wanted) {
			caseInsensitiveMatch = i
			continue
		}

		if substringMatch == NotFound && strings.Contains(strings.ToLower(name), lowerWanted) {
			substringMatch = i
		}
	}

	if caseInsensitiveMatch != NotFound {
		return caseInsensitiveMatch
	}
	return substringMatch
}
