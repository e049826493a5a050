package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostState_CanAdvanceTo(t *testing.T) {
	allowed := map[PostState][]PostState{
		PostStatePending:  {PostStateReminded, PostStatePublished, PostStateCancelled},
		PostStateReminded: {PostStatePublished, PostStateCancelled},
	}
	all := []PostState{PostStatePending, PostStateReminded, PostStatePublished, PostStateCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanAdvanceTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatesAdvancingTo(t *testing.T) {
	assert.Equal(t, []PostState{PostStatePending}, StatesAdvancingTo(PostStateReminded))
	assert.Equal(t, []PostState{PostStatePending, PostStateReminded}, StatesAdvancingTo(PostStatePublished))
	assert.Equal(t, []PostState{PostStatePending, PostStateReminded}, StatesAdvancingTo(PostStateCancelled))
	assert.Empty(t, StatesAdvancingTo(PostStatePending), "nothing moves backwards")
	assert.Equal(t, []PostState{PostStatePending, PostStateReminded}, ActiveStates())
}

func TestPost_IsActive(t *testing.T) {
	assert.True(t, (&Post{Status: PostStatusScheduled, State: PostStateReminded}).IsActive())
	assert.False(t, (&Post{Status: PostStatusPublished, State: PostStatePublished}).IsActive())
	assert.False(t, (&Post{Status: PostStatusScheduled, State: PostStateCancelled}).IsActive())
}

func TestPostContent(t *testing.T) {
	assert.True(t, PostContent{}.IsEmpty())
	assert.False(t, PostContent{Text: "hi"}.IsEmpty())
	assert.True(t, PostContent{PhotoFileID: "AgAD"}.HasPhoto())
	assert.False(t, PostContent{PhotoFileID: "AgAD"}.IsEmpty())
}
