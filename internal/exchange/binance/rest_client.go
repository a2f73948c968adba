package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"futures-signal-bot-go/internal/config"
	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/ratelimit"
	"futures-signal-bot-go/internal/trade"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	OrderTypeMarket           = "MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
	WorkingTypeMarkPrice      = "MARK_PRICE"

	codeWouldImmediatelyTrigger = -2021
	codeInvalidSymbol           = -1121
)

// APIError is the error body Binance returns alongside a non-2xx status.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error status=%d code=%d: %s", e.Status, e.Code, e.Msg)
}

// Options carries the process-wide collaborators a RestClient shares with other components.
type Options struct {
	Timeout   time.Duration
	Limiter   ratelimit.Limiter
	Redis     redis.UniversalClient
	KeyPrefix string
	SymbolTTL time.Duration
}

// RestClient is a client for the Binance USDⓈ-M futures REST API.
// It implements exchange.Adapter.
type RestClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	recvWindow int
	quoteAsset string
	logger     *zap.Logger
	limiter    ratelimit.Limiter
	symbols    *exchange.SymbolCache
}

// ensure RestClient implements the interfaces
var (
	_ exchange.Adapter    = (*RestClient)(nil)
	_ exchange.MarketData = (*RestClient)(nil)
)

// NewRestClient creates a new Binance futures REST API client.
func NewRestClient(cfg *config.Binance, opts Options, logger *zap.Logger) *RestClient {
	logger = logger.Named("binance")
	logger.Info("Using Binance futures API", zap.String("base_url", cfg.BaseURL))

	c := &RestClient{
		client:     resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).SetTimeout(opts.Timeout),
		apiKey:     cfg.ApiKey,
		secretKey:  cfg.SecretKey,
		recvWindow: cfg.RecvWindow,
		quoteAsset: cfg.QuoteAsset,
		logger:     logger,
		limiter:    opts.Limiter,
	}
	c.symbols = exchange.NewSymbolCache(c.fetchSymbolInfo, opts.SymbolTTL, opts.Redis, opts.KeyPrefix+"binance:", logger)
	return c
}

// Venue implements exchange.Adapter.
func (c *RestClient) Venue() trade.Venue { return trade.VenueCEX }

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signed appends timestamp, recvWindow and the signature over everything before it.
func (c *RestClient) signed(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	}
	payload := params.Encode()
	return payload + "&signature=" + c.sign(payload)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().SetResult(&ServerTimeResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/time", req, true)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	return resp.Result().(*ServerTimeResponse).ServerTime, nil
}

// doRequest handles the actual request execution with rate limiting.
// Idempotent reads are retried on throttling and server errors; order placement never is.
func (c *RestClient) doRequest(ctx context.Context, method, path string, req *resty.Request, retry bool) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	maxAttempts := 1
	if retry {
		maxAttempts = 3
	}

	req.SetContext(ctx)
	for i := 0; i < maxAttempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err = req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = parseAPIError(resp)
		} else {
			shouldRetry = true
		}

		if !shouldRetry || i == maxAttempts-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
}

func parseAPIError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	if jerr := json.Unmarshal(resp.Body(), apiErr); jerr != nil || apiErr.Msg == "" {
		apiErr.Msg = resp.String()
	}
	return apiErr
}

// ExchangeInfoResponse represents the response from the /fapi/v1/exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol            string   `json:"symbol"`
	Status            string   `json:"status"`
	PricePrecision    int      `json:"pricePrecision"`
	QuantityPrecision int      `json:"quantityPrecision"`
	Filters           []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// PRICE_FILTER, LOT_SIZE and MIN_NOTIONAL carry what sizing needs.
type Filter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize,omitempty"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	Notional   string `json:"notional,omitempty"`
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	req := c.client.R().SetResult(&ExchangeInfoResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

const defaultMinNotional = 5.0

func (c *RestClient) fetchSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	info, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return exchange.SymbolInfo{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return s.toExchange()
		}
	}
	return exchange.SymbolInfo{}, fmt.Errorf("%w: %s", exchange.ErrSymbolNotFound, symbol)
}

// toExchange maps the exchange filters. A symbol without a usable tick or
// step size cannot be rounded and is refused.
func (s SymbolInfo) toExchange() (exchange.SymbolInfo, error) {
	out := exchange.SymbolInfo{Symbol: s.Symbol}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			out.TickSize = parseFloat(f.TickSize)
		case "LOT_SIZE":
			out.StepSize = parseFloat(f.StepSize)
			out.MinQty = parseFloat(f.MinQty)
			out.MaxQty = parseFloat(f.MaxQty)
		case "MIN_NOTIONAL":
			out.MinNotional = parseFloat(f.Notional)
		}
	}
	if out.TickSize <= 0 || out.StepSize <= 0 {
		return exchange.SymbolInfo{}, fmt.Errorf("symbol %s: invalid filters tick=%v step=%v", s.Symbol, out.TickSize, out.StepSize)
	}
	if out.MinNotional <= 0 {
		out.MinNotional = defaultMinNotional
	}
	return out, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// GetSymbolInfo implements exchange.Adapter.
func (c *RestClient) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	return c.symbols.Get(ctx, symbol)
}

// accountResponse is the subset of /fapi/v2/account the bot reads.
type accountResponse struct {
	Assets []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
		MarginBalance    string `json:"marginBalance"`
	} `json:"assets"`
}

// GetBalance implements exchange.Adapter. It returns the available quote-asset balance.
func (c *RestClient) GetBalance(ctx context.Context) (float64, error) {
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(c.signed(url.Values{})).
		SetResult(&accountResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/account", req, true)
	if err != nil {
		return 0, fmt.Errorf("failed to get account: %w", err)
	}

	for _, a := range resp.Result().(*accountResponse).Assets {
		if a.Asset == c.quoteAsset {
			return parseFloat(a.AvailableBalance), nil
		}
	}
	c.logger.Warn("Quote asset not found in futures account", zap.String("asset", c.quoteAsset))
	return 0, nil
}

// GetLivePrice implements exchange.Adapter. Triggers are evaluated against the mark price.
func (c *RestClient) GetLivePrice(ctx context.Context, symbol string) (float64, error) {
	type premiumIndex struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	}

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&premiumIndex{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", req, true)
	if err != nil {
		return 0, fmt.Errorf("failed to get mark price for %s: %w", symbol, err)
	}

	price := parseFloat(resp.Result().(*premiumIndex).MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("invalid mark price for %s", symbol)
	}
	return price, nil
}

// SetLeverage changes the initial leverage for symbol.
func (c *RestClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signed(params))

	if _, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", req, false); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	return nil
}

// PositionAmount returns the signed position size currently held in symbol.
func (c *RestClient) PositionAmount(ctx context.Context, symbol string) (float64, error) {
	type positionRisk struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
	}
	var positions []positionRisk

	params := url.Values{}
	params.Set("symbol", symbol)
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(c.signed(params)).
		SetResult(&positions)

	if _, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", req, true); err != nil {
		return 0, fmt.Errorf("failed to get position for %s: %w", symbol, err)
	}

	var amount float64
	for _, p := range positions {
		if p.Symbol == symbol {
			amount += parseFloat(p.PositionAmt)
		}
	}
	return amount, nil
}

// OrderParams describes one futures order.
type OrderParams struct {
	Symbol     string
	Side       trade.Side
	Type       string
	Quantity   string
	StopPrice  string
	ReduceOnly bool
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	AvgPrice      string `json:"avgPrice"`
	StopPrice     string `json:"stopPrice"`
	OrigQuantity  string `json:"origQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// CreateOrder places a single order. It is never retried.
func (c *RestClient) CreateOrder(ctx context.Context, p OrderParams) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", string(p.Side))
	params.Set("type", p.Type)
	params.Set("quantity", p.Quantity)
	params.Set("positionSide", "BOTH")
	if p.StopPrice != "" {
		params.Set("stopPrice", p.StopPrice)
		params.Set("workingType", WorkingTypeMarkPrice)
	}
	if p.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signed(params)).
		SetResult(&CreateOrderResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", req, false)
	if err != nil {
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", p.Symbol),
			zap.String("type", p.Type),
		)
		return nil, fmt.Errorf("failed to create %s order: %w", p.Type, err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order",
		zap.String("symbol", result.Symbol),
		zap.String("type", result.Type),
		zap.Int64("order_id", result.OrderID),
	)
	return result, nil
}

// SubmitBracketOrder implements exchange.Adapter with three separate calls:
// a market entry, then TAKE_PROFIT_MARKET and STOP_MARKET reduce-only exits.
// Legs listed in req.Placed are skipped.
func (c *RestClient) SubmitBracketOrder(ctx context.Context, req exchange.BracketRequest) (exchange.BracketOrder, error) {
	info, err := c.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return exchange.BracketOrder{}, err
	}

	placed := req.Placed
	placed.Venue = trade.VenueCEX
	placed.Symbol = req.Symbol
	placed.Quantity = req.Quantity
	placed.TakeProfit = req.TakeProfit
	placed.StopLoss = req.StopLoss

	qty := trade.FormatStep(req.Quantity, info.StepSize)
	l := c.logger.With(zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)), zap.String("quantity", qty))

	if placed.EntryOrderID == "" {
		amount, err := c.PositionAmount(ctx, req.Symbol)
		if err != nil {
			l.Warn("Could not check existing position, continuing", zap.Error(err))
		} else if amount != 0 {
			return exchange.BracketOrder{}, fmt.Errorf("%w: %s holds %v", exchange.ErrPositionExists, req.Symbol, amount)
		}

		if req.Leverage > 0 {
			if err := c.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
				l.Warn("Failed to set leverage, continuing with account setting", zap.Error(err))
			}
		}

		entry, err := c.CreateOrder(ctx, OrderParams{Symbol: req.Symbol, Side: req.Side, Type: OrderTypeMarket, Quantity: qty})
		if err != nil {
			return exchange.BracketOrder{}, &exchange.SubmitError{Placed: placed, Err: classify(err)}
		}
		placed.EntryOrderID = strconv.FormatInt(entry.OrderID, 10)
		l.Info("Entry market order accepted", zap.String("order_id", placed.EntryOrderID), zap.String("avg_price", entry.AvgPrice))
	}

	exit := req.Side.Opposite()
	if placed.TakeProfitID == "" {
		tp, err := c.CreateOrder(ctx, OrderParams{
			Symbol:     req.Symbol,
			Side:       exit,
			Type:       OrderTypeTakeProfitMarket,
			Quantity:   qty,
			StopPrice:  trade.FormatStep(req.TakeProfit, info.TickSize),
			ReduceOnly: true,
		})
		if err != nil {
			return exchange.BracketOrder{}, &exchange.SubmitError{Placed: placed, Err: classify(err)}
		}
		placed.TakeProfitID = strconv.FormatInt(tp.OrderID, 10)
	}

	if placed.StopLossID == "" {
		sl, err := c.CreateOrder(ctx, OrderParams{
			Symbol:     req.Symbol,
			Side:       exit,
			Type:       OrderTypeStopMarket,
			Quantity:   qty,
			StopPrice:  trade.FormatStep(req.StopLoss, info.TickSize),
			ReduceOnly: true,
		})
		if err != nil {
			return exchange.BracketOrder{}, &exchange.SubmitError{Placed: placed, Err: classify(err)}
		}
		placed.StopLossID = strconv.FormatInt(sl.OrderID, 10)
	}

	return placed, nil
}

// classify maps venue rejections onto the errors the bracket builder reacts to.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeWouldImmediatelyTrigger || strings.Contains(strings.ToLower(apiErr.Msg), "immediately trigger") {
			return fmt.Errorf("%w: %v", exchange.ErrTriggerPriceMoved, err)
		}
	}
	return err
}
