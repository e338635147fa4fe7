package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteCurrency is the fiat currency quotes are converted to
const QuoteCurrency = "USD"

// Quote is the latest market data for one cryptocurrency
type Quote struct {
	Symbol           string
	Name             string
	Price            decimal.Decimal
	PercentChange24h decimal.Decimal
	MarketCap        decimal.Decimal
	LastUpdated      time.Time
}

// PriceQuoter fetches the latest quote for a ticker symbol
type PriceQuoter interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

type cmcResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		Quote  map[string]struct {
			Price            decimal.Decimal `json:"price"`
			PercentChange24h decimal.Decimal `json:"percent_change_24h"`
			MarketCap        decimal.Decimal `json:"market_cap"`
			LastUpdated      time.Time       `json:"last_updated"`
		} `json:"quote"`
	} `json:"data"`
}

// CryptoClient implements PriceQuoter using the CoinMarketCap quotes endpoint
type CryptoClient struct {
	client *http.Client
	url    string
	apiKey string
	logger *slog.Logger
}

// NewCryptoClient creates a new CryptoClient
func NewCryptoClient(url, apiKey string, timeout time.Duration, logger *slog.Logger) *CryptoClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CryptoClient{
		client: &http.Client{Timeout: timeout},
		url:    url,
		apiKey: apiKey,
		logger: logger,
	}
}

// Quote implements PriceQuoter
func (c *CryptoClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &ValidationError{Reason: "a ticker symbol is required"}
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderCrypto, Err: fmt.Errorf("invalid quote URL: %w", err)}
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("convert", QuoteCurrency)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderCrypto, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Crypto quote request failed", "symbol", symbol, "error", err)
		return nil, wrapTransportError(ProviderCrypto, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderCrypto, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var body cmcResponse
	decodeErr := json.Unmarshal(raw, &body)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && body.Status.ErrorMessage != "" {
			msg = body.Status.ErrorMessage
		}
		return nil, &ProviderError{Provider: ProviderCrypto, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	if decodeErr != nil {
		return nil, &ProviderError{Provider: ProviderCrypto, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}

	entry, ok := body.Data[symbol]
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown symbol %s", symbol)}
	}
	usd, ok := entry.Quote[QuoteCurrency]
	if !ok {
		return nil, &ProviderError{Provider: ProviderCrypto, Err: fmt.Errorf("no %s quote for %s", QuoteCurrency, symbol)}
	}

	return &Quote{
		Symbol:           entry.Symbol,
		Name:             entry.Name,
		Price:            usd.Price,
		PercentChange24h: usd.PercentChange24h,
		MarketCap:        usd.MarketCap,
		LastUpdated:      usd.LastUpdated,
	}, nil
}

// Format renders the quote for a chat message
func (q *Quote) Format() string {
	sign := ""
	if q.PercentChange24h.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("**%s (%s)**: $%s (%s%s%% 24h), market cap $%s",
		q.Name,
		q.Symbol,
		q.Price.StringFixed(2),
		sign,
		q.PercentChange24h.StringFixed(2),
		q.MarketCap.Round(0).String())
}
