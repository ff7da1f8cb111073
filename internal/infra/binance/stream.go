// Package binance subscribes to the Binance combined 24h ticker stream.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"crypto_view/internal/domain"
	"crypto_view/internal/infra/feed"

	"github.com/shopspring/decimal"
)

// maxStreams is the Binance limit of streams per combined connection.
const maxStreams = 1024

// combinedMessage is the envelope of /stream?streams=... payloads.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   *tickerPayload  `json:"data"`
	Result json.RawMessage `json:"result,omitempty"`
}

// tickerPayload is the subset of the 24hrTicker event we use.
// Binance sends numbers as strings.
type tickerPayload struct {
	Event         string `json:"e"`
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	ChangePercent string `json:"P"`
	BaseVolume    string `json:"v"`
	QuoteVolume   string `json:"q"`
}

// Decoder maps Binance symbols (BTCUSDT) to asset ids.
type Decoder struct {
	symbols map[string]domain.AssetID
}

// NewDecoder creates a decoder over symbol -> asset id.
func NewDecoder(symbols map[string]domain.AssetID) *Decoder {
	m := make(map[string]domain.AssetID, len(symbols))
	for sym, id := range symbols {
		m[strings.ToUpper(sym)] = id
	}
	return &Decoder{symbols: m}
}

// Decode implements feed.Decoder. Unmapped symbols yield no tick and no error.
func (d *Decoder) Decode(msg []byte) ([]domain.LiveTick, error) {
	var env combinedMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		if env.Result != nil {
			// control reply
			return nil, nil
		}
		return nil, errors.New("missing data")
	}

	p := env.Data
	if p.Symbol == "" {
		return nil, errors.New("missing symbol")
	}
	id, ok := d.symbols[strings.ToUpper(p.Symbol)]
	if !ok {
		return nil, nil
	}

	price, err := decimal.NewFromString(p.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", p.LastPrice, err)
	}
	tick := domain.LiveTick{AssetID: id, Price: price}

	if p.ChangePercent != "" {
		if ch, err := decimal.NewFromString(p.ChangePercent); err == nil {
			tick.Change24h = &ch
		}
	}
	// Quote volume is in USDT, the same unit as the catalog's total_volume.
	if p.QuoteVolume != "" {
		if vol, err := decimal.NewFromString(p.QuoteVolume); err == nil {
			tick.Volume24h = &vol
		}
	}
	return []domain.LiveTick{tick}, nil
}

// StreamURL builds the combined stream URL for the given symbols.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Config configures a Stream.
type Config struct {
	BaseURL          string
	Symbols          map[string]domain.AssetID // BTCUSDT -> bitcoin
	Seq              *domain.SeqSource
	Recorder         feed.Recorder
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

// Stream implements domain.LiveFeed for Binance.
type Stream struct {
	cfg     Config
	decoder *Decoder
	byAsset map[domain.AssetID]string
}

// NewStream creates a Binance live feed.
func NewStream(cfg Config) *Stream {
	byAsset := make(map[domain.AssetID]string, len(cfg.Symbols))
	for sym, id := range cfg.Symbols {
		byAsset[id] = strings.ToUpper(sym)
	}
	return &Stream{cfg: cfg, decoder: NewDecoder(cfg.Symbols), byAsset: byAsset}
}

// Name implements domain.LiveFeed.
func (s *Stream) Name() string {
	return domain.SourceBinance
}

// Subscribe opens one combined connection for ids. Empty ids means every
// configured symbol. Ids without a symbol are skipped.
func (s *Stream) Subscribe(ctx context.Context, ids []domain.AssetID, onTick domain.TickHandler, onError domain.ErrorHandler) (domain.Subscription, error) {
	symbols := s.symbolsFor(ids)
	if len(symbols) == 0 {
		return nil, &domain.ConfigError{Field: "binance.symbols", Err: errors.New("no requested asset has a symbol")}
	}
	if len(symbols) > maxStreams {
		symbols = symbols[:maxStreams]
	}

	sub, err := feed.Dial(ctx, feed.Options{
		Source:           domain.SourceBinance,
		URL:              StreamURL(s.cfg.BaseURL, symbols),
		Decoder:          s.decoder,
		Seq:              s.cfg.Seq,
		Recorder:         s.cfg.Recorder,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		PingInterval:     s.cfg.PingInterval,
	}, onTick, onError)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Stream) symbolsFor(ids []domain.AssetID) []string {
	var out []string
	if len(ids) == 0 {
		for _, sym := range s.byAsset {
			out = append(out, sym)
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			sym, ok := s.byAsset[domain.NormalizeAssetID(string(id))]
			if ok && !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	sort.Strings(out)
	return out
}
