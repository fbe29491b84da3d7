package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_UniqueAndOrdered(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		s := New()
		assert.Len(t, s, 26)
		assert.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
		if prev != "" {
			assert.Greater(t, s, prev)
		}
		prev = s
	}
}
