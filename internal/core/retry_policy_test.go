package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy_RetriesTransientCategories(t *testing.T) {
	policy := DefaultRetryPolicy("search_indexer", StageSearchIndexing)

	assert.Equal(t, 3, policy.MaxRetries)
	assert.True(t, policy.RetryOnCategory(CategoryNetwork))
	assert.True(t, policy.RetryOnCategory(CategoryTimeout))
	assert.True(t, policy.RetryOnCategory(CategoryDatabase))
	assert.True(t, policy.RetryOnCategory(CategoryUnknown))
}

func TestDefaultRetryPolicy_NeverRetriesPermanentCategories(t *testing.T) {
	policy := DefaultRetryPolicy("search_indexer", StageSearchIndexing)

	assert.False(t, policy.RetryOnCategory(CategoryValidation))
	assert.False(t, policy.RetryOnCategory(CategoryAuthentication))
	assert.False(t, policy.RetryOnCategory(CategoryAuthorization))
	assert.False(t, policy.RetryOnCategory(CategoryNotFound))
	assert.False(t, policy.RetryOnCategory(CategoryInternal))
}

func TestAllCategories_ClosedSet(t *testing.T) {
	assert.Len(t, AllCategories, 11)
}
