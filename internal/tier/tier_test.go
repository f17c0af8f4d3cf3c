package tier

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/greenledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPackagedTiers(t *testing.T) {
	tiers, err := Packaged()
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	codes := []string{tiers[0].Code, tiers[1].Code, tiers[2].Code}
	assert.Equal(t, []string{"free", "professional", "enterprise"}, codes)
	assert.EqualValues(t, Unlimited, tiers[2].Limits["users"])
}

func TestParseRejectsBadTiers(t *testing.T) {
	_, err := Parse([]byte("tiers:\n  - code: free\n    name: Free\n  - code: FREE\n    name: Again\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("tiers:\n  - code: free\n    name: Free\n    limits:\n      users: -5\n"))
	assert.Error(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	conn := db.NewTest(t, &Tier{})
	store := NewStore(conn, zap.NewNop())
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tiers, err := Packaged()
	require.NoError(t, err)
	n, err := store.Seed(ctx, tiers, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	tiers, err = Packaged()
	require.NoError(t, err)
	tiers[0].Name = "Starter"
	_, err = store.Seed(ctx, tiers, now.Add(time.Hour))
	require.NoError(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	free, err := store.Get(ctx, " FREE ")
	require.NoError(t, err)
	require.NotNil(t, free)
	assert.Equal(t, "Starter", free.Name)

	features, err := store.TierFeatures(ctx, "professional")
	require.NoError(t, err)
	assert.Contains(t, features, "imports.bulk")

	_, err = store.TierFeatures(ctx, "platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)
}
