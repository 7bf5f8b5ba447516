package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResetDailyWindow(t *testing.T) {
	day1 := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	state := NewBotTradeState("bot-1", "BTCUSDT", day1)
	state.DailyTradeCount = 7

	state.ResetDailyWindow(day1.Add(5 * time.Minute))
	assert.Equal(t, 7, state.DailyTradeCount, "same UTC day, counter kept")

	state.ResetDailyWindow(day1.Add(20 * time.Minute))
	assert.Zero(t, state.DailyTradeCount, "crossed midnight, counter reset")
	assert.Equal(t, UTCMidnight(day1.Add(20*time.Minute)), state.DailyResetUTC)
}

func TestResetDailyWindowHonorsUTCNotLocal(t *testing.T) {
	// 23:30 UTC on the 14th, expressed in a zone where it is already the
	// 15th locally. The window must not reset.
	loc := time.FixedZone("UTC+3", 3*3600)
	day := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	state := NewBotTradeState("bot-1", "BTCUSDT", day)
	state.DailyTradeCount = 3

	state.ResetDailyWindow(day.Add(10 * time.Minute).In(loc))
	assert.Equal(t, 3, state.DailyTradeCount)
}

func TestHasOpenPosition(t *testing.T) {
	state := NewBotTradeState("bot-1", "BTCUSDT", time.Now())
	assert.False(t, state.HasOpenPosition())

	state.OpenSide = SideLong
	assert.False(t, state.HasOpenPosition(), "side without qty is not open")

	state.OpenQty = 0.01
	assert.True(t, state.HasOpenPosition())

	state.ClearOpenPosition()
	assert.False(t, state.HasOpenPosition())
	assert.Zero(t, state.OpenEntryPrice)
	assert.True(t, state.OpenTs.IsZero())
}

func TestRealizedPnL(t *testing.T) {
	entry := TradeHistoryEntry{Side: SideShort, Qty: 2, EntryPrice: 100}
	assert.Equal(t, 40.0, entry.RealizedPnL(80))
	assert.Equal(t, -40.0, entry.RealizedPnL(120))
}
