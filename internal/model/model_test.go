package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorityRankOrdering(t *testing.T) {
	order := []SourceAuthority{AuthorityCourtRecord, AuthorityGovernmentFOIA, AuthorityOfficialRelease, AuthorityMedia, AuthorityArchive}
	for i := 0; i < len(order)-1; i++ {
		assert.Greater(t, AuthorityRank(order[i]), AuthorityRank(order[i+1]))
	}
}

func TestAuthorityRankUnknownIsLowest(t *testing.T) {
	assert.Equal(t, 0, AuthorityRank(SourceAuthority("nonsense")))
	assert.Less(t, AuthorityRank(SourceAuthority("nonsense")), AuthorityRank(AuthorityArchive))
}

func TestAuthorityWeightMatchesRankOrdering(t *testing.T) {
	order := []SourceAuthority{AuthorityCourtRecord, AuthorityGovernmentFOIA, AuthorityOfficialRelease, AuthorityMedia, AuthorityArchive}
	for i := 0; i < len(order)-1; i++ {
		assert.Greater(t, AuthorityWeight(order[i]), AuthorityWeight(order[i+1]))
	}
	assert.Equal(t, 0.0, AuthorityWeight(SourceAuthority("nonsense")))
}
