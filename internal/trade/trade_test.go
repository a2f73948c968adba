package trade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{
		"BUY": Buy, "long": Buy, "1": Buy, " +1 ": Buy,
		"SELL": Sell, "Short": Sell, "-1": Sell,
	} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSide("flat")
	assert.Error(t, err)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestTierFor(t *testing.T) {
	testCases := []struct {
		pct  float64
		want ConfidenceTier
	}{
		{100, TierVeryStrong},
		{80, TierVeryStrong},
		{79.9, TierStrong},
		{70, TierStrong},
		{60, TierModerate},
		{59.99, TierWeak},
		{55, TierWeak},
		{0, TierWeak},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, TierFor(tc.pct), "pct=%v", tc.pct)
	}
	assert.True(t, TierVeryStrong > TierStrong && TierStrong > TierModerate && TierModerate > TierWeak)
}

func TestLeverageTable(t *testing.T) {
	lt := LeverageTable{TierVeryStrong: 5, TierStrong: 4, TierModerate: 3}
	assert.Equal(t, 5, lt.For(TierVeryStrong))
	assert.Equal(t, 3, lt.For(TierModerate))
	assert.Equal(t, 0, lt.For(TierWeak))
}

func TestProposalValidate(t *testing.T) {
	long := Proposal{Symbol: "BTCUSDT", Side: Buy, Entry: 100, StopLoss: 98, TakeProfit: 104}
	short := Proposal{Symbol: "BTCUSDT", Side: Sell, Entry: 100, StopLoss: 102, TakeProfit: 96}

	assert.NoError(t, long.Validate())
	assert.NoError(t, short.Validate())

	bad := []Proposal{
		{Symbol: "", Side: Buy, Entry: 100, StopLoss: 98, TakeProfit: 104},
		{Symbol: "X", Side: "HOLD", Entry: 100, StopLoss: 98, TakeProfit: 104},
		{Symbol: "X", Side: Buy, Entry: 0, StopLoss: 98, TakeProfit: 104},
		{Symbol: "X", Side: Buy, Entry: 100, StopLoss: -1, TakeProfit: 104},
		{Symbol: "X", Side: Buy, Entry: 100, StopLoss: 101, TakeProfit: 104},
		{Symbol: "X", Side: Buy, Entry: 100, StopLoss: 98, TakeProfit: 100},
		{Symbol: "X", Side: Sell, Entry: 100, StopLoss: 98, TakeProfit: 96},
		{Symbol: "X", Side: Sell, Entry: 100, StopLoss: 102, TakeProfit: 101},
	}
	for i, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrInvalidProposal, "case %d", i)
	}
}

func TestStepRounding(t *testing.T) {
	assert.Equal(t, 0.75, FloorToStep(0.7509, 0.001))
	assert.Equal(t, 0.751, CeilToStep(0.7501, 0.001))
	assert.Equal(t, 0.75, CeilToStep(0.75, 0.001))
	assert.Equal(t, 100.01, RoundToStep(100.005, 0.01))
	assert.Equal(t, 3.0, FloorToStep(3.99, 1))
	assert.Equal(t, 1.23, FloorToStep(1.23, 0))

	assert.True(t, OnStep(0.75, 0.001))
	assert.False(t, OnStep(0.7505, 0.001))

	assert.Equal(t, 0.3, Add(0.1, 0.2))
	assert.Equal(t, 99.99, Sub(100, 0.01))

	assert.Equal(t, "0.750", FormatStep(0.75, 0.001))
	assert.Equal(t, "12", FormatStep(12, 1))
}
