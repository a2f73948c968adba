package orderly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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
	AlgoBracket        = "BRACKET"
	AlgoPositionalTPSL = "POSITIONAL_TP_SL"
	AlgoTakeProfit     = "TAKE_PROFIT"
	AlgoStopLoss       = "STOP_LOSS"
	TriggerMarkPrice   = "MARK_PRICE"

	algoOrderPath = "/v1/algo/order"
)

// APIError is a non-successful Orderly response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Body    string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orderly error status=%d code=%d: %s", e.Status, e.Code, e.Message)
}

// Options carries the process-wide collaborators a Client shares with other components.
type Options struct {
	Timeout   time.Duration
	Limiter   ratelimit.Limiter
	Redis     redis.UniversalClient
	KeyPrefix string
	SymbolTTL time.Duration
}

// Client implements exchange.Adapter for Orderly perpetuals.
type Client struct {
	client  *resty.Client
	signer  *Signer
	ticker  *Ticker
	limiter ratelimit.Limiter
	symbols *exchange.SymbolCache
	logger  *zap.Logger
}

var (
	_ exchange.Adapter         = (*Client)(nil)
	_ exchange.DerivativesData = (*Client)(nil)
)

// NewClient fails when the signing secret cannot be loaded.
func NewClient(cfg *config.Orderly, opts Options, logger *zap.Logger) (*Client, error) {
	signer, err := NewSigner(cfg.AccountID, cfg.PublicKey, cfg.Secret)
	if err != nil {
		return nil, err
	}
	logger = logger.Named("orderly")
	logger.Info("Using Orderly API", zap.String("base_url", cfg.BaseURL), zap.String("account_id", cfg.AccountID))

	c := &Client{
		client:  resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).SetTimeout(opts.Timeout),
		signer:  signer,
		ticker:  NewTicker(cfg.WSURL, cfg.AccountID, opts.Timeout, logger),
		limiter: opts.Limiter,
		logger:  logger,
	}
	c.symbols = exchange.NewSymbolCache(c.fetchSymbolInfo, opts.SymbolTTL, opts.Redis, opts.KeyPrefix+"orderly:", logger)
	return c, nil
}

// PerpSymbol maps a signal asset such as BTCUSDT to the venue symbol PERP_BTC_USDC.
func PerpSymbol(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if strings.HasPrefix(asset, "PERP_") {
		return asset
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if base, ok := strings.CutSuffix(asset, quote); ok && base != "" {
			asset = base
			break
		}
	}
	return "PERP_" + asset + "_USDC"
}

// Venue implements exchange.Adapter.
func (c *Client) Venue() trade.Venue { return trade.VenueDEX }

// envelope is the common response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do sends one request under the shared limiter and decodes data into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := c.client.R().SetContext(ctx).SetHeader("Accept", "application/json")
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	} else {
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.SetHeaders(c.signer.Headers(method, path, string(body)))
	}

	c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}

	var env envelope
	_ = json.Unmarshal(resp.Body(), &env)
	if resp.StatusCode() != http.StatusOK || !env.Success {
		return fmt.Errorf("request %s %s failed: %w", method, path, &APIError{
			Status:  resp.StatusCode(),
			Code:    env.Code,
			Message: env.Message,
			Body:    resp.String(),
		})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type infoResponse struct {
	Symbol      string  `json:"symbol"`
	BaseTick    float64 `json:"base_tick"`
	QuoteTick   float64 `json:"quote_tick"`
	BaseMin     float64 `json:"base_min"`
	BaseMax     float64 `json:"base_max"`
	MinNotional float64 `json:"min_notional"`
	BaseIMR     float64 `json:"base_imr"`
	BaseMMR     float64 `json:"base_mmr"`
}

func (c *Client) fetchSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	var info infoResponse
	if err := c.do(ctx, http.MethodGet, "/v1/public/info/"+symbol, nil, false, &info); err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Status < http.StatusInternalServerError {
			return exchange.SymbolInfo{}, fmt.Errorf("%w: %s: %v", exchange.ErrSymbolNotFound, symbol, err)
		}
		return exchange.SymbolInfo{}, fmt.Errorf("failed to get info for %s: %w", symbol, err)
	}
	out := exchange.SymbolInfo{
		Symbol:      symbol,
		TickSize:    info.QuoteTick,
		StepSize:    info.BaseTick,
		MinQty:      info.BaseMin,
		MaxQty:      info.BaseMax,
		MinNotional: info.MinNotional,
		BaseIMR:     info.BaseIMR,
		BaseMMR:     info.BaseMMR,
	}
	if out.TickSize <= 0 {
		out.TickSize = 0.01
	}
	if out.StepSize <= 0 {
		out.StepSize = 0.01
	}
	if out.MinNotional <= 0 {
		out.MinNotional = 10
	}
	return out, nil
}

// GetSymbolInfo implements exchange.Adapter. symbol is a signal asset or a venue symbol.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	return c.symbols.Get(ctx, PerpSymbol(symbol))
}

// GetBalance implements exchange.Adapter. It returns the account's free collateral.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var positions struct {
		FreeCollateral float64 `json:"free_collateral"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/positions", nil, true, &positions); err != nil {
		return 0, fmt.Errorf("failed to get free collateral: %w", err)
	}
	return positions.FreeCollateral, nil
}

// GetLivePrice implements exchange.Adapter with the last ticker close.
func (c *Client) GetLivePrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return c.ticker.Close(ctx, PerpSymbol(symbol))
}

type algoOrder struct {
	Symbol           string       `json:"symbol"`
	AlgoType         string       `json:"algo_type"`
	Quantity         json.Number  `json:"quantity,omitempty"`
	Side             string       `json:"side,omitempty"`
	Type             string       `json:"type,omitempty"`
	TriggerPrice     json.Number  `json:"trigger_price,omitempty"`
	TriggerPriceType string       `json:"trigger_price_type,omitempty"`
	ReduceOnly       bool         `json:"reduce_only,omitempty"`
	ChildOrders      []*algoOrder `json:"child_orders,omitempty"`
}

// bracketPayload builds one BRACKET algo order: a market entry with a nested
// POSITIONAL_TP_SL holding reduce-only take-profit and stop-loss on the exit side.
func bracketPayload(req exchange.BracketRequest, info exchange.SymbolInfo) *algoOrder {
	exit := string(req.Side.Opposite())
	leg := func(algo string, trigger float64) *algoOrder {
		return &algoOrder{
			Symbol:           info.Symbol,
			AlgoType:         algo,
			Side:             exit,
			Type:             "CLOSE_POSITION",
			TriggerPrice:     json.Number(trade.FormatStep(trigger, info.TickSize)),
			TriggerPriceType: TriggerMarkPrice,
			ReduceOnly:       true,
		}
	}
	return &algoOrder{
		Symbol:   info.Symbol,
		AlgoType: AlgoBracket,
		Quantity: json.Number(trade.FormatStep(req.Quantity, info.StepSize)),
		Side:     string(req.Side),
		Type:     "MARKET",
		ChildOrders: []*algoOrder{{
			Symbol:   info.Symbol,
			AlgoType: AlgoPositionalTPSL,
			ChildOrders: []*algoOrder{
				leg(AlgoTakeProfit, req.TakeProfit),
				leg(AlgoStopLoss, req.StopLoss),
			},
		}},
	}
}

type orderRow struct {
	OrderID  json.Number `json:"order_id"`
	AlgoType string      `json:"algo_type"`
}

// SubmitBracketOrder implements exchange.Adapter with a single signed POST.
func (c *Client) SubmitBracketOrder(ctx context.Context, req exchange.BracketRequest) (exchange.BracketOrder, error) {
	info, err := c.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return exchange.BracketOrder{}, err
	}

	body, err := json.Marshal(bracketPayload(req, info))
	if err != nil {
		return exchange.BracketOrder{}, fmt.Errorf("encode bracket: %w", err)
	}

	var result struct {
		Rows []orderRow `json:"rows"`
	}
	if err := c.do(ctx, http.MethodPost, algoOrderPath, body, true, &result); err != nil {
		if apiErr, ok := asAPIError(err); ok && strings.Contains(strings.ToLower(apiErr.Body), "trigger price") {
			return exchange.BracketOrder{}, fmt.Errorf("%w: %v", exchange.ErrTriggerPriceMoved, err)
		}
		return exchange.BracketOrder{}, err
	}

	placed := exchange.BracketOrder{
		Venue:      trade.VenueDEX,
		Symbol:     info.Symbol,
		Quantity:   req.Quantity,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	}
	var positional string
	for _, row := range result.Rows {
		id := row.OrderID.String()
		switch row.AlgoType {
		case AlgoBracket:
			placed.EntryOrderID = id
		case AlgoTakeProfit:
			placed.TakeProfitID = id
		case AlgoStopLoss:
			placed.StopLossID = id
		case AlgoPositionalTPSL:
			positional = id
		}
	}
	// The venue may report the exits only as their POSITIONAL_TP_SL parent.
	if placed.TakeProfitID == "" {
		placed.TakeProfitID = positional
	}
	if placed.StopLossID == "" {
		placed.StopLossID = positional
	}
	if placed.EntryOrderID == "" {
		placed.EntryOrderID = positional
	}

	c.logger.Info("Bracket order accepted",
		zap.String("symbol", info.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("quantity", req.Quantity),
		zap.String("entry_id", placed.EntryOrderID),
		zap.String("positional_id", positional),
	)
	return placed, nil
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// FundingRates implements exchange.DerivativesData, newest first.
func (c *Client) FundingRates(ctx context.Context, symbol string, limit int) ([]exchange.FundingRate, error) {
	var history struct {
		Rows []struct {
			FundingRate          float64 `json:"funding_rate"`
			FundingRateTimestamp int64   `json:"funding_rate_timestamp"`
		} `json:"rows"`
	}
	path := "/v1/public/funding_rate_history?symbol=" + PerpSymbol(symbol) + "&size=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &history); err != nil {
		return nil, fmt.Errorf("failed to get funding history: %w", err)
	}

	rates := make([]exchange.FundingRate, 0, len(history.Rows))
	for _, r := range history.Rows {
		rates = append(rates, exchange.FundingRate{
			Time: time.UnixMilli(r.FundingRateTimestamp).UTC(),
			Rate: r.FundingRate,
		})
	}
	return rates, nil
}

// Liquidations implements exchange.DerivativesData.
func (c *Client) Liquidations(ctx context.Context, symbol string) ([]exchange.Liquidation, error) {
	var liquidated struct {
		Rows []struct {
			Timestamp       int64 `json:"timestamp"`
			PositionsByPerp []struct {
				Symbol        string  `json:"symbol"`
				PositionQty   float64 `json:"position_qty"`
				TransferPrice float64 `json:"transfer_price"`
			} `json:"positions_by_perp"`
		} `json:"rows"`
	}
	perp := PerpSymbol(symbol)
	if err := c.do(ctx, http.MethodGet, "/v1/public/liquidated_positions?symbol="+perp, nil, false, &liquidated); err != nil {
		return nil, fmt.Errorf("failed to get liquidations: %w", err)
	}

	var out []exchange.Liquidation
	for _, row := range liquidated.Rows {
		for _, p := range row.PositionsByPerp {
			if p.Symbol != perp || p.TransferPrice <= 0 {
				continue
			}
			out = append(out, exchange.Liquidation{
				Time:     time.UnixMilli(row.Timestamp).UTC(),
				Price:    p.TransferPrice,
				Quantity: p.PositionQty,
			})
		}
	}
	return out, nil
}
