package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/exchange/exchangetest"
	"futures-signal-bot-go/internal/gate"
	"futures-signal-bot-go/internal/signal"
	"futures-signal-bot-go/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const marker = "DO NOT EXECUTE"

func TestParseVerdict(t *testing.T) {
	testCases := []struct {
		name    string
		reply   string
		want    trade.Proposal
		wantErr error
	}{
		{
			name:  "fenced json",
			reply: "Looks fine.\n```json\n{\"symbol\":\"btcusdt\",\"side\":\"BUY\",\"entry\":100,\"stop_loss\":98,\"take_profit\":104,\"confidence\":75,\"leverage\":3}\n```\n",
			want:  trade.Proposal{Symbol: "BTCUSDT", Side: trade.Buy, Entry: 100, StopLoss: 98, TakeProfit: 104, Confidence: 75, Leverage: 3},
		},
		{
			name:  "bare json with string numbers",
			reply: `Plan: {"symbol":"ETHUSDT","side":"short","entry":"2500.5","stop_loss":"2550","take_profit":"2400","confidence":"81%"} end`,
			want:  trade.Proposal{Symbol: "ETHUSDT", Side: trade.Sell, Entry: 2500.5, StopLoss: 2550, TakeProfit: 2400, Confidence: 81},
		},
		{
			name:  "numeric side",
			reply: `{"symbol":"SOLUSDT","side":-1,"entry":150,"stop_loss":155,"take_profit":140,"confidence":70}`,
			want:  trade.Proposal{Symbol: "SOLUSDT", Side: trade.Sell, Entry: 150, StopLoss: 155, TakeProfit: 140, Confidence: 70},
		},
		{name: "refusal", reply: "Weak structure. do not execute.", wantErr: ErrVetoed},
		{name: "refusal wins over json", reply: `DO NOT EXECUTE {"symbol":"BTCUSDT","side":"BUY","entry":1,"stop_loss":0.5,"take_profit":2,"confidence":70}`, wantErr: ErrVetoed},
		{name: "no json", reply: "Approved, go long.", wantErr: ErrMalformedVerdict},
		{name: "broken json", reply: "```json\n{\"symbol\": \"BTCUSDT\", \n```", wantErr: ErrMalformedVerdict},
		{name: "missing take profit", reply: `{"symbol":"BTCUSDT","side":"BUY","entry":100,"stop_loss":98,"confidence":75}`, wantErr: ErrMalformedVerdict},
		{name: "null field", reply: `{"symbol":"BTCUSDT","side":"BUY","entry":null,"stop_loss":98,"take_profit":104,"confidence":75}`, wantErr: ErrMalformedVerdict},
		{name: "bad side", reply: `{"symbol":"BTCUSDT","side":"HOLD","entry":100,"stop_loss":98,"take_profit":104,"confidence":75}`, wantErr: ErrMalformedVerdict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseVerdict(tc.reply, marker)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReconcileLeverage(t *testing.T) {
	assert.Equal(t, 3, ReconcileLeverage(3, 4))
	assert.Equal(t, 4, ReconcileLeverage(4, 4))
	assert.Equal(t, 4, ReconcileLeverage(10, 4))
	assert.Equal(t, 4, ReconcileLeverage(0, 4))
	assert.Equal(t, 4, ReconcileLeverage(-2, 4))
}

func TestChatClient(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var req chatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "deepseek-chat", req.Model)
			assert.Zero(t, req.Temperature)
			assert.Equal(t, 500, req.MaxTokens)
			assert.Len(t, req.Messages, 2)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"DO NOT EXECUTE"}}]}`))
		}))
		defer server.Close()

		c := NewChatClient(server.URL+"/v1", "secret", "deepseek-chat", 500, time.Second, zap.NewNop())
		out, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}})
		require.NoError(t, err)
		assert.Equal(t, "DO NOT EXECUTE", out)
	})

	t.Run("non-2xx fails closed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewChatClient(server.URL, "k", "m", 10, time.Second, zap.NewNop())
		_, err := c.Complete(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("timeout fails closed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		c := NewChatClient(server.URL, "k", "m", 10, 50*time.Millisecond, zap.NewNop())
		_, err := c.Complete(context.Background(), nil)
		assert.Error(t, err)
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCandlesCSV(t *testing.T) {
	candles := []exchange.Candle{
		{OpenTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}

	t.Run("Renders", func(t *testing.T) {
		out, err := CandlesCSV(candles)
		require.NoError(t, err)
		assert.Equal(t, "open_time,open,high,low,close,volume\n2024-01-01T00:00:00Z,1,2,0.5,1.5,10\n", out)
	})

	t.Run("WriteFailure", func(t *testing.T) {
		err := writeCandles(failingWriter{}, candles)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestOrderBookText(t *testing.T) {
	out := OrderBookText(exchange.OrderBook{
		Bids: []exchange.BookLevel{{Price: 99, Quantity: 1}, {Price: 98, Quantity: 2}},
		Asks: []exchange.BookLevel{{Price: 101, Quantity: 3}},
	}, 1)
	assert.Equal(t, "Top Bids (price, quantity):\n99,1\n\nTop Asks (price, quantity):\n101,3\n", out)
}

func TestFundingAndLiquidationText(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	funding := FundingText([]exchange.FundingRate{
		{Time: now, Rate: 0.0003},
		{Time: now.Add(-8 * time.Hour), Rate: 0.0001},
	})
	assert.True(t, strings.HasPrefix(funding, "2024-01-01T00:00:00Z,0.0001\n"))
	assert.Contains(t, funding, "trend=rising")

	liqs := LiquidationText([]exchange.Liquidation{{Price: 99.5}, {Price: 101.5}, {Price: 90}}, 100)
	assert.Contains(t, liqs, "liquidations=3")
	assert.Contains(t, liqs, "within 1%: below=1 above=0")
	assert.Contains(t, liqs, "within 2%: below=1 above=1")
}

type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Complete(ctx context.Context, messages []Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func gatedSignal() gate.GatedSignal {
	return gate.GatedSignal{
		Signal: signal.RawSignal{
			ID:                "sig-9",
			Asset:             "BTCUSDT",
			Direction:         signal.Direction{Side: trade.Buy},
			ConfidencePercent: 82,
			Interval:          "1h",
			Backtest:          signal.Backtest{Trades: 30, Expectancy: 0.01},
		},
		Tier:     trade.TierVeryStrong,
		Leverage: 5,
	}
}

func newTestGate(reasoner Reasoner, derivatives exchange.DerivativesData) (*Gate, *exchangetest.MockMarketData) {
	market := new(exchangetest.MockMarketData)
	market.On("Klines", mock.Anything, "BTCUSDT", "1h", 80).Return([]exchange.Candle{
		{OpenTime: time.Unix(0, 0), Open: 99, High: 101, Low: 98, Close: 100, Volume: 5},
	}, nil)
	market.On("OrderBook", mock.Anything, "BTCUSDT", 15).Return(exchange.OrderBook{
		Bids: []exchange.BookLevel{{Price: 99.9, Quantity: 1}},
		Asks: []exchange.BookLevel{{Price: 100.1, Quantity: 1}},
	}, nil)
	builder := NewContextBuilder(market, derivatives, 80, 15, 12, zap.NewNop())
	return NewGate(builder, reasoner, "", marker, zap.NewNop()), market
}

func TestReview_Approves(t *testing.T) {
	reasoner := new(MockReasoner)
	reasoner.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []Message) bool {
		return len(msgs) == 3 &&
			strings.Contains(msgs[0].Content, "Asset: BTCUSDT") &&
			strings.Contains(msgs[0].Content, "leverage: 5") &&
			strings.HasPrefix(msgs[1].Content, "Candles (CSV format):\nopen_time") &&
			strings.HasPrefix(msgs[2].Content, "Orderbook:\nTop Bids")
	})).Return("```json\n{\"symbol\":\"BTCUSDT\",\"side\":\"LONG\",\"entry\":100,\"stop_loss\":98,\"take_profit\":104,\"confidence\":82,\"leverage\":3}\n```", nil)

	g, _ := newTestGate(reasoner, nil)
	p, err := g.Review(context.Background(), gatedSignal())
	require.NoError(t, err)
	assert.Equal(t, trade.Buy, p.Side)
	assert.Equal(t, 3, p.Leverage)
	assert.Equal(t, "BTCUSDT", p.Symbol)
	reasoner.AssertExpectations(t)
}

func TestReview_AddsDerivativesContext(t *testing.T) {
	derivatives := new(exchangetest.MockDerivativesData)
	derivatives.On("FundingRates", mock.Anything, "BTCUSDT", 12).Return([]exchange.FundingRate{{Time: time.Unix(0, 0), Rate: 0.0001}}, nil)
	derivatives.On("Liquidations", mock.Anything, "BTCUSDT").Return([]exchange.Liquidation(nil), errors.New("unavailable"))

	reasoner := new(MockReasoner)
	reasoner.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []Message) bool {
		return len(msgs) == 4 && strings.HasPrefix(msgs[3].Content, "Funding rate history")
	})).Return(marker, nil)

	g, _ := newTestGate(reasoner, derivatives)
	_, err := g.Review(context.Background(), gatedSignal())
	assert.ErrorIs(t, err, ErrVetoed)
	reasoner.AssertExpectations(t)
}

func TestReview_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		reply   string
		err     error
		wantErr error
	}{
		{name: "transport failure", err: errors.New("connection reset")},
		{name: "veto", reply: "do not execute: no confluence", wantErr: ErrVetoed},
		{name: "malformed", reply: "ok!", wantErr: ErrMalformedVerdict},
		{
			name:    "take profit on wrong side",
			reply:   `{"symbol":"BTCUSDT","side":"BUY","entry":100,"stop_loss":98,"take_profit":97,"confidence":80}`,
			wantErr: trade.ErrInvalidProposal,
		},
		{
			name:    "other symbol",
			reply:   `{"symbol":"ETHUSDT","side":"BUY","entry":100,"stop_loss":98,"take_profit":104,"confidence":80}`,
			wantErr: trade.ErrInvalidProposal,
		},
		{
			name:    "flipped side",
			reply:   `{"symbol":"BTCUSDT","side":"SELL","entry":100,"stop_loss":104,"take_profit":98,"confidence":80}`,
			wantErr: trade.ErrInvalidProposal,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reasoner := new(MockReasoner)
			reasoner.On("Complete", mock.Anything, mock.Anything).Return(tc.reply, tc.err)

			g, _ := newTestGate(reasoner, nil)
			_, err := g.Review(context.Background(), gatedSignal())
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestReview_ContextFailureSkipsReasoner(t *testing.T) {
	market := new(exchangetest.MockMarketData)
	market.On("Klines", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]exchange.Candle(nil), errors.New("418"))
	reasoner := new(MockReasoner)

	g := NewGate(NewContextBuilder(market, nil, 80, 15, 12, zap.NewNop()), reasoner, "", marker, zap.NewNop())
	_, err := g.Review(context.Background(), gatedSignal())
	assert.Error(t, err)
	reasoner.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestLoadAnalysis(t *testing.T) {
	text, err := LoadAnalysis("")
	require.NoError(t, err)
	assert.Contains(t, text, marker)

	_, err = LoadAnalysis("/does/not/exist.txt")
	assert.Error(t, err)
}
