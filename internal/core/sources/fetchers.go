package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sawpanic/marketdata/internal/core/errs"
	"github.com/sawpanic/marketdata/internal/core/quote"
)

// EquityFetcher is a reference Source for US_STOCK/JP_STOCK symbols
// against a generic JSON quote endpoint: GET {baseURL}?symbol=<symbol>,
// returning {"price":..,"change":..,"changePercent":..,"currency":..,"name":..}.
// Real deployments swap this for a concrete scraper/REST client; the core
// only depends on the Source interface.
type EquityFetcher struct {
	id       string
	dataType quote.DataType
	baseURL  string
	currency string
	client   *http.Client
	priority int
}

// NewEquityFetcher builds a fetcher for dt (USStock or JPStock) against
// baseURL, quoting prices in currency.
func NewEquityFetcher(id string, dt quote.DataType, baseURL, currency string, priority int) *EquityFetcher {
	return &EquityFetcher{id: id, dataType: dt, baseURL: baseURL, currency: currency, client: defaultHTTPClient(), priority: priority}
}

func (f *EquityFetcher) ID() string                 { return f.id }
func (f *EquityFetcher) DataType() quote.DataType    { return f.dataType }
func (f *EquityFetcher) DefaultPriority() int        { return f.priority }

type equityResponse struct {
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Currency      string  `json:"currency"`
	Name          string  `json:"name"`
}

func (f *EquityFetcher) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	u := fmt.Sprintf("%s?symbol=%s", f.baseURL, url.QueryEscape(symbol))
	var resp equityResponse
	retryAfter, err := doJSON(ctx, f.client, u, &resp)
	if err != nil {
		return quote.Quote{}, &errs.SourceError{SourceID: f.id, Kind: Classify(err), Err: err, RetryAfter: retryAfter}
	}
	currency := resp.Currency
	if currency == "" {
		currency = f.currency
	}
	return quote.Quote{
		Symbol:        symbol,
		DataType:      f.dataType,
		Price:         resp.Price,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent,
		Currency:      currency,
		Name:          resp.Name,
		LastUpdated:   time.Now().UTC(),
		Source:        f.id,
	}, nil
}

// MutualFundFetcher is a reference Source for MUTUAL_FUND NAV lookups.
type MutualFundFetcher struct {
	id       string
	baseURL  string
	client   *http.Client
	priority int
}

func NewMutualFundFetcher(id, baseURL string, priority int) *MutualFundFetcher {
	return &MutualFundFetcher{id: id, baseURL: baseURL, client: defaultHTTPClient(), priority: priority}
}

func (f *MutualFundFetcher) ID() string              { return f.id }
func (f *MutualFundFetcher) DataType() quote.DataType { return quote.MutualFund }
func (f *MutualFundFetcher) DefaultPriority() int    { return f.priority }

type navResponse struct {
	NAV           float64 `json:"nav"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Name          string  `json:"name"`
}

func (f *MutualFundFetcher) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	u := fmt.Sprintf("%s?code=%s", f.baseURL, url.QueryEscape(symbol))
	var resp navResponse
	retryAfter, err := doJSON(ctx, f.client, u, &resp)
	if err != nil {
		return quote.Quote{}, &errs.SourceError{SourceID: f.id, Kind: Classify(err), Err: err, RetryAfter: retryAfter}
	}
	return quote.Quote{
		Symbol:        symbol,
		DataType:      quote.MutualFund,
		Price:         resp.NAV,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent,
		Currency:      "JPY",
		Name:          resp.Name,
		PriceLabel:    "NAV",
		LastUpdated:   time.Now().UTC(),
		Source:        f.id,
	}, nil
}

// ExchangeRateFetcher is a reference Source for EXCHANGE_RATE pairs.
// symbol is expected in "<base>-<target>" form (see quote.PairSymbol).
type ExchangeRateFetcher struct {
	id       string
	baseURL  string
	client   *http.Client
	priority int
}

func NewExchangeRateFetcher(id, baseURL string, priority int) *ExchangeRateFetcher {
	return &ExchangeRateFetcher{id: id, baseURL: baseURL, client: defaultHTTPClient(), priority: priority}
}

func (f *ExchangeRateFetcher) ID() string              { return f.id }
func (f *ExchangeRateFetcher) DataType() quote.DataType { return quote.ExchangeRate }
func (f *ExchangeRateFetcher) DefaultPriority() int    { return f.priority }

type rateResponse struct {
	Rate          float64 `json:"rate"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

func splitPair(symbol string) (base, target string, ok bool) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i], symbol[i+1:], true
		}
	}
	return "", "", false
}

func (f *ExchangeRateFetcher) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	base, target, ok := splitPair(symbol)
	if !ok {
		return quote.Quote{}, &errs.SourceError{SourceID: f.id, Kind: quote.ErrorKindValidation, Err: fmt.Errorf("invalid pair symbol %q", symbol)}
	}
	u := fmt.Sprintf("%s?base=%s&target=%s", f.baseURL, url.QueryEscape(base), url.QueryEscape(target))
	var resp rateResponse
	retryAfter, err := doJSON(ctx, f.client, u, &resp)
	if err != nil {
		return quote.Quote{}, &errs.SourceError{SourceID: f.id, Kind: Classify(err), Err: err, RetryAfter: retryAfter}
	}
	return quote.Quote{
		Symbol:        symbol,
		DataType:      quote.ExchangeRate,
		Price:         resp.Rate,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent,
		Currency:      target,
		Base:          base,
		Target:        target,
		Pair:          quote.PairSymbol(base, target),
		LastUpdated:   time.Now().UTC(),
		Source:        f.id,
	}, nil
}
