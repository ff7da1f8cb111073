// Package coincap subscribes to the CoinCap price stream.
package coincap

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

// Decoder maps CoinCap ids to asset ids. Messages are flat objects of id -> price string.
type Decoder struct {
	assets map[string]domain.AssetID
}

// NewDecoder creates a decoder over coincap id -> asset id.
func NewDecoder(assets map[string]domain.AssetID) *Decoder {
	m := make(map[string]domain.AssetID, len(assets))
	for remote, id := range assets {
		m[strings.ToLower(remote)] = id
	}
	return &Decoder{assets: m}
}

// Decode implements feed.Decoder. One tick per mapped entry, in id order.
// Entries with a bad price are skipped and reported in the returned error.
func (d *Decoder) Decode(msg []byte) ([]domain.LiveTick, error) {
	var prices map[string]string
	if err := json.Unmarshal(msg, &prices); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ticks []domain.LiveTick
	var errs []error
	for _, remote := range keys {
		id, ok := d.assets[strings.ToLower(remote)]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(prices[remote])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s price %q: %w", remote, prices[remote], err))
			continue
		}
		ticks = append(ticks, domain.LiveTick{AssetID: id, Price: price})
	}
	return ticks, errors.Join(errs...)
}

// StreamURL builds the prices URL for the given coincap ids.
func StreamURL(base string, remoteIDs []string) string {
	return strings.TrimRight(base, "/") + "/prices?assets=" + strings.Join(remoteIDs, ",")
}

// Config configures a Stream.
type Config struct {
	BaseURL          string
	Assets           map[string]domain.AssetID // coincap id -> asset id
	Seq              *domain.SeqSource
	Recorder         feed.Recorder
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

// Stream implements domain.LiveFeed for CoinCap.
type Stream struct {
	cfg     Config
	decoder *Decoder
	byAsset map[domain.AssetID]string
}

// NewStream creates a CoinCap live feed.
func NewStream(cfg Config) *Stream {
	byAsset := make(map[domain.AssetID]string, len(cfg.Assets))
	for remote, id := range cfg.Assets {
		byAsset[id] = strings.ToLower(remote)
	}
	return &Stream{cfg: cfg, decoder: NewDecoder(cfg.Assets), byAsset: byAsset}
}

// Name implements domain.LiveFeed.
func (s *Stream) Name() string {
	return domain.SourceCoinCap
}

// Subscribe opens one connection for ids. Empty ids means every configured asset.
func (s *Stream) Subscribe(ctx context.Context, ids []domain.AssetID, onTick domain.TickHandler, onError domain.ErrorHandler) (domain.Subscription, error) {
	remote := s.remoteIDsFor(ids)
	if len(remote) == 0 {
		return nil, &domain.ConfigError{Field: "coincap.assets", Err: errors.New("no requested asset is mapped")}
	}

	sub, err := feed.Dial(ctx, feed.Options{
		Source:           domain.SourceCoinCap,
		URL:              StreamURL(s.cfg.BaseURL, remote),
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

func (s *Stream) remoteIDsFor(ids []domain.AssetID) []string {
	var out []string
	if len(ids) == 0 {
		for _, r := range s.byAsset {
			out = append(out, r)
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			r, ok := s.byAsset[domain.NormalizeAssetID(string(id))]
			if ok && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out
}
