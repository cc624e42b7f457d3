package idgen_test

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/zitadel-sub007/pkg/idgen"
)

func TestSortableID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := idgen.SortableID()

		_, err := ulid.Parse(id)
		require.NoError(t, err)

		_, dup := seen[id]
		assert.False(t, dup, "ids must be unique")
		seen[id] = struct{}{}
	}
}
