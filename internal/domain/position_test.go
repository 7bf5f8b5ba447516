package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideForSignal(t *testing.T) {
	assert.Equal(t, SideLong, SideForSignal(SignalUp))
	assert.Equal(t, SideShort, SideForSignal(SignalDown))
	assert.Equal(t, PositionSide(""), SideForSignal(SignalNeutral))
}

func TestOpposite(t *testing.T) {
	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
}

func TestNotionalUSD(t *testing.T) {
	p := NormalizedPosition{Size: 0.5, EntryPrice: 40000, MarkPrice: 50000}
	assert.Equal(t, 25000.0, p.NotionalUSD())

	p.MarkPrice = 0
	assert.Equal(t, 20000.0, p.NotionalUSD(), "entry price fallback when no mark")
}

func TestAggregatePositionsMergesSameSide(t *testing.T) {
	out := AggregatePositions([]NormalizedPosition{
		{Symbol: "BTCUSDT", Side: SideLong, Size: 1, EntryPrice: 40000, MarkPrice: 50000},
		{Symbol: "BTCUSDT", Side: SideLong, Size: 3, EntryPrice: 44000, MarkPrice: 50500},
		{Symbol: "ETHUSDT", Side: SideShort, Size: 2, EntryPrice: 3000},
		{Symbol: "BTCUSDT", Side: SideShort, Size: 0.5, EntryPrice: 51000},
	})

	require.Len(t, out, 3)
	btcLong := out[0]
	assert.Equal(t, 4.0, btcLong.Size)
	assert.InDelta(t, 43000, btcLong.EntryPrice, 1e-9, "size-weighted entry")
	assert.Equal(t, 50500.0, btcLong.MarkPrice, "freshest mark wins")
}

func TestAggregatePositionsDropsEmptyRows(t *testing.T) {
	out := AggregatePositions([]NormalizedPosition{
		{Symbol: "BTCUSDT", Side: SideLong, Size: 0},
		{Symbol: "BTCUSDT", Side: SideLong, Size: -1},
	})
	assert.Empty(t, out)
}

func TestFindPositionPrefersLargerSide(t *testing.T) {
	positions := []NormalizedPosition{
		{Symbol: "BTCUSDT", Side: SideLong, Size: 1},
		{Symbol: "BTCUSDT", Side: SideShort, Size: 2},
		{Symbol: "ETHUSDT", Side: SideLong, Size: 5},
	}

	pos := FindPosition(positions, "BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, SideShort, pos.Side)

	assert.Nil(t, FindPosition(positions, "DOGEUSDT"))
}

func TestUnrealizedPnLUSD(t *testing.T) {
	assert.Equal(t, 20.0, UnrealizedPnLUSD(SideLong, 0.01, 50000, 52000))
	assert.Equal(t, -20.0, UnrealizedPnLUSD(SideLong, 0.01, 52000, 50000))
	assert.Equal(t, 20.0, UnrealizedPnLUSD(SideShort, 0.01, 52000, 50000))
	assert.Zero(t, UnrealizedPnLUSD(SideLong, 0, 50000, 52000))
	assert.Zero(t, UnrealizedPnLUSD(SideLong, 0.01, 50000, 0))
}
