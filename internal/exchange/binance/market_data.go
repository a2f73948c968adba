package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"futures-signal-bot-go/internal/exchange"
)

// depthLimits are the book sizes the depth endpoint accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// Klines fetches the most recent limit bars of symbol.
func (c *RestClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	var rows [][]json.RawMessage
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&rows)

	if _, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/klines", req, true); err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, lookupError(err))
	}

	candles := make([]exchange.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("malformed kline open time: %w", err)
		}
		candles = append(candles, exchange.Candle{
			OpenTime: time.UnixMilli(openTime).UTC(),
			Open:     rawFloat(row[1]),
			High:     rawFloat(row[2]),
			Low:      rawFloat(row[3]),
			Close:    rawFloat(row[4]),
			Volume:   rawFloat(row[5]),
		})
	}
	return candles, nil
}

// OrderBook fetches the top depth levels per side.
func (c *RestClient) OrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	type depthResponse struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}

	limit := depthLimits[len(depthLimits)-1]
	for _, l := range depthLimits {
		if l >= depth {
			limit = l
			break
		}
	}

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&depthResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/depth", req, true)
	if err != nil {
		return exchange.OrderBook{}, fmt.Errorf("failed to get order book for %s: %w", symbol, lookupError(err))
	}

	d := resp.Result().(*depthResponse)
	return exchange.OrderBook{
		Bids: toLevels(d.Bids, depth),
		Asks: toLevels(d.Asks, depth),
	}, nil
}

// Ticker24h fetches rolling 24h statistics. An unlisted symbol yields exchange.ErrSymbolNotFound.
func (c *RestClient) Ticker24h(ctx context.Context, symbol string) (exchange.Ticker24h, error) {
	type tickerResponse struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		Volume      string `json:"volume"`
		QuoteVolume string `json:"quoteVolume"`
	}

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&tickerResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", req, true)
	if err != nil {
		return exchange.Ticker24h{}, fmt.Errorf("failed to get 24h ticker for %s: %w", symbol, lookupError(err))
	}

	t := resp.Result().(*tickerResponse)
	return exchange.Ticker24h{
		Symbol:      t.Symbol,
		LastPrice:   parseFloat(t.LastPrice),
		Volume:      parseFloat(t.Volume),
		QuoteVolume: parseFloat(t.QuoteVolume),
	}, nil
}

func lookupError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
		return fmt.Errorf("%w: %v", exchange.ErrSymbolNotFound, err)
	}
	return err
}

func toLevels(rows [][2]string, depth int) []exchange.BookLevel {
	if depth > 0 && len(rows) > depth {
		rows = rows[:depth]
	}
	levels := make([]exchange.BookLevel, 0, len(rows))
	for _, r := range rows {
		levels = append(levels, exchange.BookLevel{Price: parseFloat(r[0]), Quantity: parseFloat(r[1])})
	}
	return levels
}

func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}
