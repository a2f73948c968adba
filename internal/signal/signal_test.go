package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"futures-signal-bot-go/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleFeed = `[{
	"asset": "LTCUSDT",
	"signal": 1,
	"confidence": 1,
	"confidence_percent": 100,
	"interval": "4h",
	"venue": "CEX",
	"score": 1,
	"regime": "HIGH VOLATILITY",
	"timestamp": "2025-11-23T22:19:30.249249+00:00",
	"expires_at": 1763939970.249278,
	"signal_id": "CEX_20251123_221930",
	"liquidity_tier": "Unknown",
	"liquidity_score": 7.28,
	"volume_1h": 2483583.05,
	"volatility_1h": 1.24,
	"backtest": {"trades": 131, "winrate": 0.802, "avg_ret": 0.0016, "exp": 0.0032, "max_dd": -0.0652}
}]`

func TestRawSignal_Decode(t *testing.T) {
	var signals []RawSignal
	require.NoError(t, json.Unmarshal([]byte(sampleFeed), &signals))
	require.Len(t, signals, 1)

	s := signals[0]
	assert.NoError(t, s.Validate())
	assert.Equal(t, "CEX_20251123_221930", s.ID)
	assert.Equal(t, trade.Buy, s.Side())
	assert.Equal(t, "4h", s.Bar())
	assert.Equal(t, 131, s.Backtest.Trades)
	assert.Equal(t, 0.0032, s.Backtest.Expectancy)
	assert.Equal(t, int64(1763939970), s.ExpiresAt.Unix())
	assert.True(t, s.Expired(time.Unix(1763939971, 0)))
	assert.False(t, s.Expired(time.Unix(1763939969, 0)))
}

func TestDirection_Decode(t *testing.T) {
	testCases := []struct {
		in      string
		want    trade.Side
		wantErr bool
	}{
		{in: `1`, want: trade.Buy},
		{in: `-1`, want: trade.Sell},
		{in: `"LONG"`, want: trade.Buy},
		{in: `"short"`, want: trade.Sell},
		{in: `0`, wantErr: true},
		{in: `"FLAT"`, wantErr: true},
	}
	for _, tc := range testCases {
		var d Direction
		err := json.Unmarshal([]byte(tc.in), &d)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, d.Side, tc.in)
	}
}

func TestRawSignal_Validate(t *testing.T) {
	valid := RawSignal{ID: "x", Asset: "BTCUSDT", Direction: Direction{Side: trade.Sell}, ConfidencePercent: 70, Timeframe: "1h"}
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.ErrorIs(t, missingID.Validate(), ErrInvalidSignal)

	noDirection := valid
	noDirection.Direction = Direction{}
	assert.ErrorIs(t, noDirection.Validate(), ErrInvalidSignal)

	badConfidence := valid
	badConfidence.ConfidencePercent = 140
	assert.ErrorIs(t, badConfidence.Validate(), ErrInvalidSignal)

	noExpiry := valid
	assert.False(t, noExpiry.Expired(time.Now()))
}

func TestHTTPSource_FetchActive(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "CEX", r.URL.Query().Get("venue"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(sampleFeed))
		}))
		defer server.Close()

		src := NewHTTPSource(server.URL, time.Second, zap.NewNop())
		sig, err := src.FetchActive(context.Background(), trade.VenueCEX)
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, "LTCUSDT", sig.Asset)
	})

	t.Run("EmptyList", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		sig, err := NewHTTPSource(server.URL, time.Second, zap.NewNop()).FetchActive(context.Background(), trade.VenueDEX)
		assert.NoError(t, err)
		assert.Nil(t, sig)
	})

	t.Run("Non200IsNoSignal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		sig, err := NewHTTPSource(server.URL, time.Second, zap.NewNop()).FetchActive(context.Background(), trade.VenueCEX)
		assert.NoError(t, err)
		assert.Nil(t, sig)
	})

	t.Run("Timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		sig, err := NewHTTPSource(server.URL, 20*time.Millisecond, zap.NewNop()).FetchActive(context.Background(), trade.VenueCEX)
		assert.Error(t, err)
		assert.Nil(t, sig)
	})

	t.Run("InvalidSignal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"asset":"BTCUSDT","signal":"LONG","interval":"1h"}]`))
		}))
		defer server.Close()

		_, err := NewHTTPSource(server.URL, time.Second, zap.NewNop()).FetchActive(context.Background(), trade.VenueCEX)
		assert.ErrorIs(t, err, ErrInvalidSignal)
	})
}

func TestConfidencePct(t *testing.T) {
	testCases := []struct {
		name string
		sig  RawSignal
		want float64
	}{
		{name: "percent field", sig: RawSignal{Confidence: 0.5, ConfidencePercent: 72}, want: 72},
		{name: "unit score", sig: RawSignal{Confidence: 0.65}, want: 65},
		{name: "score already percent", sig: RawSignal{Confidence: 81}, want: 81},
		{name: "absent", sig: RawSignal{}, want: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.sig.ConfidencePct(), 1e-9)
		})
	}
}
