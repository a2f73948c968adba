// Package exchangetest provides testify mocks of the exchange interfaces.
package exchangetest

import (
	"context"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/trade"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of exchange.Adapter.
type MockAdapter struct {
	mock.Mock
	VenueName trade.Venue
}

var _ exchange.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Venue() trade.Venue {
	if m.VenueName == "" {
		return trade.VenueCEX
	}
	return m.VenueName
}

func (m *MockAdapter) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.SymbolInfo), args.Error(1)
}

func (m *MockAdapter) GetBalance(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockAdapter) GetLivePrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockAdapter) SubmitBracketOrder(ctx context.Context, req exchange.BracketRequest) (exchange.BracketOrder, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.BracketOrder), args.Error(1)
}

// MockMarketData is a mock implementation of exchange.MarketData.
type MockMarketData struct {
	mock.Mock
}

var _ exchange.MarketData = (*MockMarketData)(nil)

func (m *MockMarketData) Klines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	return args.Get(0).([]exchange.Candle), args.Error(1)
}

func (m *MockMarketData) OrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	args := m.Called(ctx, symbol, depth)
	return args.Get(0).(exchange.OrderBook), args.Error(1)
}

func (m *MockMarketData) Ticker24h(ctx context.Context, symbol string) (exchange.Ticker24h, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.Ticker24h), args.Error(1)
}

// MockDerivativesData is a mock implementation of exchange.DerivativesData.
type MockDerivativesData struct {
	mock.Mock
}

var _ exchange.DerivativesData = (*MockDerivativesData)(nil)

func (m *MockDerivativesData) FundingRates(ctx context.Context, symbol string, limit int) ([]exchange.FundingRate, error) {
	args := m.Called(ctx, symbol, limit)
	return args.Get(0).([]exchange.FundingRate), args.Error(1)
}

func (m *MockDerivativesData) Liquidations(ctx context.Context, symbol string) ([]exchange.Liquidation, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).([]exchange.Liquidation), args.Error(1)
}
