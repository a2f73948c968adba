package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"futures-signal-bot-go/internal/config"
	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/ratelimit"
	"futures-signal-bot-go/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const exchangeInfoBody = `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10"},
	{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
	{"filterType":"MIN_NOTIONAL","notional":"100"}]}]}`

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(t *testing.T, handler http.Handler) *RestClient {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Binance{
		BaseURL:    server.URL,
		ApiKey:     "test_api_key",
		SecretKey:  "test_secret_key",
		RecvWindow: 5000,
		QuoteAsset: "USDT",
	}
	return NewRestClient(cfg, Options{
		Timeout: 2 * time.Second,
		Limiter: ratelimit.NewSlidingWindow(1000, time.Second),
	}, zap.NewNop())
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		expectedTime := time.Now().UnixMilli()
		rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/fapi/v1/time", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"serverTime": %d}`, expectedTime)
		}))

		serverTime, err := rc.GetServerTime(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, expectedTime, serverTime)
	})

	t.Run("APIError", func(t *testing.T) {
		rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1100, "msg": "Illegal characters"}`))
		}))

		serverTime, err := rc.GetServerTime(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get server time")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, -1100, apiErr.Code)
		assert.Equal(t, int64(0), serverTime)
	})
}

func TestGetSymbolInfo_ParsesFiltersAndCaches(t *testing.T) {
	var calls int
	rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(exchangeInfoBody))
	}))

	info, err := rc.GetSymbolInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.1, info.TickSize)
	assert.Equal(t, 0.001, info.StepSize)
	assert.Equal(t, 0.001, info.MinQty)
	assert.Equal(t, 1000.0, info.MaxQty)
	assert.Equal(t, 100.0, info.MinNotional)

	_, err = rc.GetSymbolInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = rc.GetSymbolInfo(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, exchange.ErrSymbolNotFound)
}

func TestGetSymbolInfo_RejectsUnusableFilters(t *testing.T) {
	testCases := []struct {
		name    string
		filters string
	}{
		{"MissingPriceFilter", `{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"}`},
		{"MissingLotSize", `{"filterType":"PRICE_FILTER","tickSize":"0.10"}`},
		{"ZeroTick", `{"filterType":"PRICE_FILTER","tickSize":"0"},{"filterType":"LOT_SIZE","stepSize":"0.001"}`},
		{"UnparseableStep", `{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"LOT_SIZE","stepSize":"abc"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprintf(w, `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[%s]}]}`, tc.filters)
			}))

			_, err := rc.GetSymbolInfo(context.Background(), "BTCUSDT")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid filters")
		})
	}
}

func TestGetBalance_SignsRequest(t *testing.T) {
	rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/account", r.URL.Path)
		assert.Equal(t, "test_api_key", r.Header.Get("X-MBX-APIKEY"))
		q := r.URL.Query()
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.Equal(t, "5000", q.Get("recvWindow"))
		assert.Len(t, q.Get("signature"), 64)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"assets":[{"asset":"BNB","availableBalance":"1"},{"asset":"USDT","availableBalance":"123.45"}]}`))
	}))

	balance, err := rc.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 123.45, balance)
}

func TestGetLivePrice(t *testing.T) {
	rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","markPrice":"2500.12"}`))
	}))

	price, err := rc.GetLivePrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2500.12, price)
}

// fakeFutures is a minimal order endpoint that records what it receives.
type fakeFutures struct {
	mu          sync.Mutex
	positionAmt string
	orders      []map[string]string
	failType    string
	failCode    int
	leverage    string
}

func (f *fakeFutures) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/fapi/v1/exchangeInfo":
		_, _ = w.Write([]byte(exchangeInfoBody))
	case "/fapi/v2/positionRisk":
		_, _ = fmt.Fprintf(w, `[{"symbol":"BTCUSDT","positionAmt":"%s"}]`, f.positionAmt)
	case "/fapi/v1/leverage":
		_ = r.ParseForm()
		f.leverage = r.PostForm.Get("leverage")
		_, _ = w.Write([]byte(`{"leverage":3}`))
	case "/fapi/v1/order":
		_ = r.ParseForm()
		order := map[string]string{}
		for k := range r.PostForm {
			order[k] = r.PostForm.Get(k)
		}
		if order["type"] == f.failType {
			f.failType = ""
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, `{"code":%d,"msg":"Order would immediately trigger."}`, f.failCode)
			return
		}
		f.orders = append(f.orders, order)
		_, _ = fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":%d,"type":"%s"}`, 100+len(f.orders), order["type"])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func bracketRequest() exchange.BracketRequest {
	return exchange.BracketRequest{
		Symbol:     "BTCUSDT",
		Side:       trade.Buy,
		Quantity:   0.75,
		TakeProfit: 104.2,
		StopLoss:   98,
		Leverage:   3,
	}
}

func TestSubmitBracketOrder_PlacesThreeLegs(t *testing.T) {
	fake := &fakeFutures{positionAmt: "0"}
	rc := setupTestServer(t, fake)

	placed, err := rc.SubmitBracketOrder(context.Background(), bracketRequest())
	require.NoError(t, err)
	assert.True(t, placed.Complete())
	assert.Equal(t, "101", placed.EntryOrderID)
	assert.Equal(t, "102", placed.TakeProfitID)
	assert.Equal(t, "103", placed.StopLossID)
	assert.Equal(t, trade.VenueCEX, placed.Venue)
	assert.Equal(t, "3", fake.leverage)

	require.Len(t, fake.orders, 3)
	entry, tp, sl := fake.orders[0], fake.orders[1], fake.orders[2]

	assert.Equal(t, OrderTypeMarket, entry["type"])
	assert.Equal(t, "BUY", entry["side"])
	assert.Equal(t, "0.750", entry["quantity"])
	assert.Empty(t, entry["reduceOnly"])

	assert.Equal(t, OrderTypeTakeProfitMarket, tp["type"])
	assert.Equal(t, "SELL", tp["side"])
	assert.Equal(t, "104.2", tp["stopPrice"])
	assert.Equal(t, "true", tp["reduceOnly"])
	assert.Equal(t, WorkingTypeMarkPrice, tp["workingType"])

	assert.Equal(t, OrderTypeStopMarket, sl["type"])
	assert.Equal(t, "SELL", sl["side"])
	assert.Equal(t, "98.0", sl["stopPrice"])
	assert.Equal(t, "true", sl["reduceOnly"])
}

func TestSubmitBracketOrder_ExistingPosition(t *testing.T) {
	fake := &fakeFutures{positionAmt: "0.5"}
	rc := setupTestServer(t, fake)

	_, err := rc.SubmitBracketOrder(context.Background(), bracketRequest())
	assert.ErrorIs(t, err, exchange.ErrPositionExists)
	assert.Empty(t, fake.orders)
}

func TestSubmitBracketOrder_TriggerRejectionKeepsPlacedLegs(t *testing.T) {
	fake := &fakeFutures{positionAmt: "0", failType: OrderTypeStopMarket, failCode: codeWouldImmediatelyTrigger}
	rc := setupTestServer(t, fake)

	_, err := rc.SubmitBracketOrder(context.Background(), bracketRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrTriggerPriceMoved)

	var submitErr *exchange.SubmitError
	require.True(t, errors.As(err, &submitErr))
	assert.Equal(t, "101", submitErr.Placed.EntryOrderID)
	assert.Equal(t, "102", submitErr.Placed.TakeProfitID)
	assert.Empty(t, submitErr.Placed.StopLossID)

	// Resubmitting with the accepted legs only sends the missing stop.
	req := bracketRequest()
	req.StopLoss = 97.5
	req.Placed = submitErr.Placed
	placed, err := rc.SubmitBracketOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, placed.Complete())
	require.Len(t, fake.orders, 3)
	assert.Equal(t, "97.5", fake.orders[2]["stopPrice"])
}

func TestSubmitBracketOrder_OtherRejectionIsTerminal(t *testing.T) {
	fake := &fakeFutures{positionAmt: "0", failType: OrderTypeMarket, failCode: -2019}
	rc := setupTestServer(t, fake)

	_, err := rc.SubmitBracketOrder(context.Background(), bracketRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, exchange.ErrTriggerPriceMoved)
	assert.Empty(t, fake.orders)
}

func TestMarketData(t *testing.T) {
	rc := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fapi/v1/klines":
			assert.Equal(t, "15m", r.URL.Query().Get("interval"))
			_, _ = w.Write([]byte(`[[1700000000000,"100","101","99","100.5","12.3",1700000899999,"1234",10,"6","600","0"]]`))
		case "/fapi/v1/depth":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"bids":[["100","1"],["99.9","2"],["99.8","3"]],"asks":[["100.1","1"],["100.2","2"],["100.3","3"]]}`))
		case "/fapi/v1/ticker/24hr":
			if r.URL.Query().Get("symbol") != "BTCUSDT" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
				return
			}
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"100","volume":"10","quoteVolume":"1000"}`))
		}
	}))
	ctx := context.Background()

	candles, err := rc.Klines(ctx, "BTCUSDT", "15m", 1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 12.3, candles[0].Volume)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime.UnixMilli())

	book, err := rc.OrderBook(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 2)
	assert.Len(t, book.Asks, 2)
	assert.Equal(t, 100.1, book.Asks[0].Price)

	ticker, err := rc.Ticker24h(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, ticker.QuoteVolume)

	_, err = rc.Ticker24h(ctx, "FOOUSDT")
	assert.ErrorIs(t, err, exchange.ErrSymbolNotFound)
}
