package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindArchetypes(t *testing.T) {
	for _, kind := range []Kind{KindRated, KindUnrated, KindRewardOnly, KindGhost} {
		a, ok := kind.Archetype()
		assert.True(t, ok, kind)
		if a.EngagementMode == EngagementRewardOnly {
			assert.False(t, a.AccrualEligible, "reward only visits never accrue")
		}
		if a.IdentityScope == IdentityAnonymous {
			assert.False(t, kind.Identified())
		}
	}

	rated, _ := KindRated.Archetype()
	assert.True(t, rated.AccrualEligible)
	assert.False(t, KindRewardOnly.Playable())
	assert.True(t, KindGhost.Playable())

	_, ok := Kind("vip").Archetype()
	assert.False(t, ok)
	assert.False(t, Kind("").Valid())
}

func TestCloseReasonValid(t *testing.T) {
	assert.True(t, CloseReasonRollover.Valid())
	assert.False(t, CloseReason("lost").Valid())
}
