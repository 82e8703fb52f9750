package history

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunIDIsUniqueAndSortable(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = NewRunID()
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "run id %q generated twice", id)
		seen[id] = true
		assert.Len(t, id, 26)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids)
}
