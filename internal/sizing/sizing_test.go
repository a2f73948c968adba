package sizing

import (
	"math/rand"
	"testing"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longProposal(entry, sl float64) trade.Proposal {
	return trade.Proposal{Symbol: "BTCUSDT", Side: trade.Buy, Entry: entry, StopLoss: sl, TakeProfit: entry * 1.1, Confidence: 80}
}

func TestSize_RiskBound(t *testing.T) {
	s := NewRiskSizer(Params{RiskPerTradePct: 1.5, MarginUtilizationCap: 0.5})
	info := exchange.SymbolInfo{StepSize: 0.001, MinNotional: 10}

	res, err := s.Size(longProposal(100, 98), 100, 3, info)
	require.NoError(t, err)
	assert.Equal(t, 0.75, res.Quantity)
	assert.Equal(t, 75.0, res.Notional)
	assert.Equal(t, 150.0, res.MaxNotional)
	assert.False(t, res.Rejected())
}

func TestSize_MarginBound(t *testing.T) {
	s := NewRiskSizer(Params{RiskPerTradePct: 10, MarginUtilizationCap: 0.5})
	info := exchange.SymbolInfo{StepSize: 0.01, MinNotional: 5}

	// by risk 10/0.5 = 20, by margin 100*2*0.5/100 = 1
	res, err := s.Size(longProposal(100, 99.5), 100, 2, info)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Quantity)
}

func TestSize_Rejections(t *testing.T) {
	s := NewRiskSizer(Params{RiskPerTradePct: 1.5, MarginUtilizationCap: 0.5})
	info := exchange.SymbolInfo{StepSize: 0.001, MinQty: 0.001, MinNotional: 10}

	testCases := []struct {
		name     string
		proposal trade.Proposal
		balance  float64
		leverage int
		info     exchange.SymbolInfo
	}{
		{name: "zero stop distance", proposal: longProposal(100, 100), balance: 100, leverage: 3, info: info},
		{name: "zero entry", proposal: longProposal(0, 98), balance: 100, leverage: 3, info: info},
		{name: "no balance", proposal: longProposal(100, 98), balance: 0, leverage: 3, info: info},
		{name: "below min notional", proposal: longProposal(100, 98), balance: 10, leverage: 3, info: info},
		{name: "rounds to zero", proposal: longProposal(60000, 50000), balance: 10, leverage: 3, info: exchange.SymbolInfo{StepSize: 0.001, MinNotional: 1}},
		{name: "below min qty", proposal: longProposal(100, 98), balance: 100, leverage: 3, info: exchange.SymbolInfo{StepSize: 0.01, MinQty: 1, MinNotional: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.Size(tc.proposal, tc.balance, tc.leverage, tc.info)
			assert.ErrorIs(t, err, ErrInfeasible)
			assert.True(t, res.Rejected())
			assert.Zero(t, res.Quantity)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestSize_BumpToMinNotional(t *testing.T) {
	s := NewRiskSizer(Params{RiskPerTradePct: 1.5, MarginUtilizationCap: 0.5, BumpToMinNotional: true})

	t.Run("rounds up to reach the minimum", func(t *testing.T) {
		// risk gives 0.075 (notional 7.5); minimum needs 10/100 = 0.1
		info := exchange.SymbolInfo{StepSize: 0.03, MinNotional: 10}
		res, err := s.Size(longProposal(100, 98), 10, 5, info)
		require.NoError(t, err)
		assert.Equal(t, 0.12, res.Quantity)
		assert.GreaterOrEqual(t, res.Notional, 10.0)
	})

	t.Run("abandons when the minimum breaks the margin cap", func(t *testing.T) {
		info := exchange.SymbolInfo{StepSize: 0.001, MinNotional: 10}
		res, err := s.Size(longProposal(100, 98), 5, 3, info)
		assert.ErrorIs(t, err, ErrInfeasible)
		assert.Zero(t, res.Quantity)
	})

	t.Run("abandons when the minimum exceeds max qty", func(t *testing.T) {
		info := exchange.SymbolInfo{StepSize: 0.001, MinNotional: 10, MaxQty: 0.05}
		_, err := s.Size(longProposal(100, 98), 10, 20, info)
		assert.ErrorIs(t, err, ErrInfeasible)
	})
}

func TestSize_ClampsToMaxQty(t *testing.T) {
	s := NewRiskSizer(Params{RiskPerTradePct: 1.5, MarginUtilizationCap: 0.5})
	info := exchange.SymbolInfo{StepSize: 0.001, MinNotional: 10, MaxQty: 0.5}

	res, err := s.Size(longProposal(100, 98), 100, 3, info)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Quantity)
}

// Every accepted size sits on the step grid, meets the minimum notional and stays under the margin cap.
func TestSize_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	steps := []float64{1, 0.1, 0.01, 0.001, 0.0001}

	for _, bump := range []bool{false, true} {
		s := NewRiskSizer(Params{RiskPerTradePct: 1.5, MarginUtilizationCap: 0.5, BumpToMinNotional: bump})
		for i := 0; i < 2000; i++ {
			entry := 0.5 + rng.Float64()*50000
			stop := entry * (1 - 0.001 - rng.Float64()*0.1)
			balance := 1 + rng.Float64()*5000
			leverage := 1 + rng.Intn(10)
			info := exchange.SymbolInfo{
				StepSize:    steps[rng.Intn(len(steps))],
				MinNotional: float64(1 + rng.Intn(20)),
			}

			res, err := s.Size(longProposal(entry, stop), balance, leverage, info)
			if err != nil {
				assert.Zero(t, res.Quantity)
				continue
			}
			maxNotional := balance * float64(leverage) * 0.5
			assert.True(t, trade.OnStep(res.Quantity, info.StepSize), "qty %v step %v", res.Quantity, info.StepSize)
			assert.GreaterOrEqual(t, res.Notional, info.MinNotional)
			assert.LessOrEqual(t, res.Notional, maxNotional+info.StepSize*entry)
		}
	}
}
