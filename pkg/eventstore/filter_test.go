package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

func TestFilterValidate(t *testing.T) {
	var nilFilter *eventstore.Filter
	assert.Error(t, nilFilter.Validate())
	assert.NoError(t, (&eventstore.Filter{}).Validate())
}

func TestSearchQueryValidate(t *testing.T) {
	var nilQuery *eventstore.SearchQuery
	assert.Error(t, nilQuery.Validate())
	assert.Error(t, (&eventstore.SearchQuery{}).Validate())
	assert.Error(t, (&eventstore.SearchQuery{Filters: []*eventstore.Filter{nil}}).Validate())
	assert.NoError(t, (&eventstore.SearchQuery{
		Filters: []*eventstore.Filter{{AggregateTypes: []string{"user"}}},
	}).Validate())
}
