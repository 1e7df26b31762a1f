package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"DebtAllocator/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Remote asks an external pricing service for the APR:
//
//	GET {baseURL}/apr?strategy=0x..&delta=123  ->  {"apr": "456"}
type Remote struct {
	id     model.StrategyID
	client *resty.Client
	log    zerolog.Logger
}

type aprResponse struct {
	APR decimal.Decimal `json:"apr"`
}

type RemoteOption func(*Remote)

// WithHTTPClient replaces the resty client, mainly for tests.
func WithHTTPClient(c *resty.Client) RemoteOption { return func(r *Remote) { r.client = c } }

func WithRemoteLogger(log zerolog.Logger) RemoteOption {
	return func(r *Remote) { r.log = log.With().Str("component", "remote_apr").Logger() }
}

// NewRemote creates a remote oracle with optional proxy support.
func NewRemote(id model.StrategyID, baseURL, apiKey, proxyURL string, opts ...RemoteOption) *Remote {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	r := &Remote{id: id, client: client, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) ID() model.StrategyID { return r.id }

func (r *Remote) EstimatedAPRAfterDelta(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	var out aprResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("strategy", r.id.Hex()).
		SetQueryParam("delta", delta.String()).
		SetResult(&out).
		Get("/apr")
	if err != nil {
		return decimal.Zero, fmt.Errorf("remote %s: fetch apr: %w", r.id.Hex(), err)
	}
	if !resp.IsSuccess() {
		return decimal.Zero, fmt.Errorf("remote %s: fetch apr: status %d, body: %s", r.id.Hex(), resp.StatusCode(), resp.String())
	}
	if out.APR.IsNegative() {
		return decimal.Zero, fmt.Errorf("remote %s: %w: %s", r.id.Hex(), ErrNegativeAPR, out.APR)
	}
	r.log.Debug().
		Str("strategy", r.id.Hex()).
		Str("delta", delta.String()).
		Str("apr", out.APR.String()).
		Msg("remote apr fetched")
	return out.APR, nil
}
