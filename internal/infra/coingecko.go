package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"crypto_view/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	coinGeckoAPIKeyHeader = "x-cg-demo-api-key"
	coinGeckoChangeWindow = "1h,24h,7d"
	maxErrorBody          = 512
)

// coinGeckoMarket is one element of the /coins/markets response.
// decimal.Decimal accepts JSON null and leaves the field at zero.
type coinGeckoMarket struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	Image            string          `json:"image"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	TotalVolume      decimal.Decimal `json:"total_volume"`
	PriceChange24h   decimal.Decimal `json:"price_change_percentage_24h"`
	PriceChange1hIn  decimal.Decimal `json:"price_change_percentage_1h_in_currency"`
	PriceChange24hIn decimal.Decimal `json:"price_change_percentage_24h_in_currency"`
	PriceChange7dIn  decimal.Decimal `json:"price_change_percentage_7d_in_currency"`
	SparklineIn7d    *sparkline      `json:"sparkline_in_7d"`
}

type sparkline struct {
	Price []decimal.Decimal `json:"price"`
}

// toSnapshot normalizes a market row. The 24h change prefers the *_in_currency
// field and falls back to the plain percentage.
func (m *coinGeckoMarket) toSnapshot() domain.AssetSnapshot {
	change24h := m.PriceChange24hIn
	if change24h.IsZero() {
		change24h = m.PriceChange24h
	}
	s := domain.AssetSnapshot{
		ID:        domain.NormalizeAssetID(m.ID),
		Name:      m.Name,
		Symbol:    m.Symbol,
		Price:     m.CurrentPrice,
		Change1h:  m.PriceChange1hIn,
		Change24h: change24h,
		Change7d:  m.PriceChange7dIn,
		MarketCap: m.MarketCap,
		Volume24h: m.TotalVolume,
		LogoURL:   m.Image,
	}
	if m.SparklineIn7d != nil {
		s.Sparkline = m.SparklineIn7d.Price
	}
	return s
}

// CoinGeckoClient polls the CoinGecko markets endpoint and hands every
// successful batch to onSnapshot. A failed poll leaves the last good batch in
// place; the next interval tries again.
type CoinGeckoClient struct {
	onSnapshot   func(domain.SnapshotBatch)
	seq          *domain.SeqSource
	metrics      *Metrics
	pollInterval time.Duration
	apiURL       string
	apiKey       string
	params       url.Values
	httpClient   *http.Client

	mu          sync.RWMutex
	lastUpdated time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoinGeckoClient creates a fetcher from the coingecko section of cfg.
// seq is shared with the live feeds so snapshot and tick order is comparable.
func NewCoinGeckoClient(cfg *Config, seq *domain.SeqSource, onSnapshot func(domain.SnapshotBatch)) *CoinGeckoClient {
	cg := cfg.CoinGecko
	params := url.Values{}
	params.Set("vs_currency", cg.VsCurrency)
	params.Set("order", cg.Order)
	params.Set("per_page", strconv.Itoa(cg.PerPage))
	params.Set("page", strconv.Itoa(cg.Page))
	params.Set("sparkline", "true")
	params.Set("price_change_percentage", coinGeckoChangeWindow)

	timeout := cg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CoinGeckoClient{
		onSnapshot:   onSnapshot,
		seq:          seq,
		metrics:      GlobalMetrics,
		pollInterval: cg.PollInterval,
		apiURL:       cg.URL,
		apiKey:       cg.APIKey,
		params:       params,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Start fetches once, then launches one independent attempt per poll interval.
// An attempt still in flight does not delay the next one; the view ignores
// batches that resolve out of order.
func (c *CoinGeckoClient) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Snapshot polling panic recovered", slog.Any("panic", r))
			}
		}()

		c.wg.Add(1)
		go c.poll(ctx)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Snapshot polling stopped")
				return
			case <-ticker.C:
				c.wg.Add(1)
				go c.poll(ctx)
			}
		}
	}()
}

func (c *CoinGeckoClient) poll(ctx context.Context) {
	defer c.wg.Done()

	batch, err := c.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Snapshot fetch failed",
			slog.Any("error", err),
			slog.Bool("retriable", domain.IsRetriable(err)),
		)
		return
	}
	if c.onSnapshot != nil {
		c.onSnapshot(batch)
	}
}

// Fetch performs one request. Every failure is a *domain.FetchError.
func (c *CoinGeckoClient) Fetch(ctx context.Context) (domain.SnapshotBatch, error) {
	start := time.Now()

	batch, err := c.doFetch(ctx)
	if err != nil {
		c.metrics.RecordFetchError()
		return domain.SnapshotBatch{}, err
	}

	c.mu.Lock()
	c.lastUpdated = batch.FetchedAt
	c.mu.Unlock()

	c.metrics.RecordFetch(time.Since(start), len(batch.Assets))
	slog.Debug("Snapshot fetched",
		slog.Int("assets", len(batch.Assets)),
		slog.Uint64("seq", batch.Seq),
	)
	return batch, nil
}

func (c *CoinGeckoClient) doFetch(ctx context.Context) (domain.SnapshotBatch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+c.params.Encode(), nil)
	if err != nil {
		// a bad URL fails the same way on every attempt
		return domain.SnapshotBatch{}, &domain.FetchError{Err: domain.NewFatalNetworkError("build request", err)}
	}

	// Add browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(coinGeckoAPIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SnapshotBatch{}, &domain.FetchError{Err: domain.NewNetworkError("get", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.SnapshotBatch{}, &domain.FetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", body),
		}
	}

	// Stamped on receipt so ticks that arrive while the body decodes order after it.
	seq := c.seq.Next()
	fetchedAt := time.Now()

	var rows []coinGeckoMarket
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return domain.SnapshotBatch{}, &domain.FetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err),
		}
	}

	assets := make([]domain.AssetSnapshot, 0, len(rows))
	for i := range rows {
		if rows[i].ID == "" {
			continue
		}
		assets = append(assets, rows[i].toSnapshot())
	}
	if len(assets) == 0 {
		return domain.SnapshotBatch{}, &domain.FetchError{StatusCode: resp.StatusCode, Err: domain.ErrEmptySnapshot}
	}

	return domain.SnapshotBatch{Assets: assets, Seq: seq, FetchedAt: fetchedAt}, nil
}

// Stop stops the polling
func (c *CoinGeckoClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// LastUpdated returns the receive time of the last successful fetch.
func (c *CoinGeckoClient) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}
