package signal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"futures-signal-bot-go/internal/trade"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Source returns the single active signal for a venue, or nil when there is none.
type Source interface {
	FetchActive(ctx context.Context, venue trade.Venue) (*RawSignal, error)
}

// HTTPSource polls the signal feed over HTTP.
type HTTPSource struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a feed client with a bounded request timeout.
func NewHTTPSource(url string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		logger: logger.Named("signal-source"),
	}
}

// FetchActive implements Source. A non-200 status or an empty list is "no signal";
// only transport failures and undecodable payloads are errors.
func (s *HTTPSource) FetchActive(ctx context.Context, venue trade.Venue) (*RawSignal, error) {
	var signals []RawSignal
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("venue", string(venue)).
		SetResult(&signals).
		ForceContentType("application/json").
		Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch active signal: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		s.logger.Warn("Signal feed returned non-200, treating as no signal",
			zap.Int("status", resp.StatusCode()),
			zap.String("venue", string(venue)),
		)
		return nil, nil
	}
	if len(signals) == 0 {
		return nil, nil
	}

	sig := signals[0]
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return &sig, nil
}
