package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackagedCatalogParses(t *testing.T) {
	items, err := Offsets()
	require.NoError(t, err)
	require.NotEmpty(t, items)

	names := map[string]bool{}
	for _, it := range items {
		assert.False(t, names[it.Name], "duplicate %s", it.Name)
		names[it.Name] = true
		assert.True(t, it.PricePerTonne.IsPositive(), it.Name)
		require.NotNil(t, it.CO2OffsetPerUnit)
	}
}

func TestParseRejectsBadPrice(t *testing.T) {
	_, err := Parse([]byte("offsets:\n  - name: x\n    price_per_tonne: cheap\n"))
	assert.Error(t, err)
}
