package scrape

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// sortedKeys gives a deterministic walk order over decoded JSON objects.
func sortedKeys(object map[string]any) []string {
	keys := maps.Keys(object)
	slices.Sort(keys)
	return keys
}
