package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidateNamesOrder(t *testing.T) {
	p := NewProviderLoader(nil, nil, nil, nil, []string{"custom"})
	names := p.candidateNames("Qt.core")

	assert.Equal(t, candidateName{"custom", LookupNamed}, names[0])
	assert.Equal(t, candidateName{"Qt.core", LookupScoped}, names[1])
	assert.Equal(t, candidateName{"Qt", LookupScoped}, names[2])
	assert.Equal(t, candidateName{"fallback", LookupFallback}, names[3])
}

func TestHashConfigStableAcrossMapOrder(t *testing.T) {
	a := hashConfig(map[string]any{"x": 1, "y": 2})
	b := hashConfig(map[string]any{"y": 2, "x": 1})
	assert.Equal(t, a, b)
}
