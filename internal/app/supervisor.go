package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crypto_view/internal/domain"
	"crypto_view/internal/infra"
)

// FeedSupervisor keeps one live feed subscribed. Subscriptions themselves never
// reconnect; when one ends with an error the supervisor opens a new one after
// an exponential backoff, unless reconnect is disabled.
type FeedSupervisor struct {
	feed       domain.LiveFeed
	ids        []domain.AssetID
	onTick     domain.TickHandler
	onError    domain.ErrorHandler
	reconnect  bool
	maxRetries int // consecutive failures before giving up; 0 = unlimited
	stableFor  time.Duration
	backoff    func(retry int) time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SupervisorConfig configures a FeedSupervisor.
type SupervisorConfig struct {
	IDs        []domain.AssetID // empty subscribes every mapped asset
	Reconnect  bool
	MaxRetries int
	// StableAfter is how long a connection must stay up before the retry
	// count resets. Defaults to 30s.
	StableAfter time.Duration
	Backoff     func(retry int) time.Duration
}

const defaultStableAfter = 30 * time.Second

// NewFeedSupervisor creates a supervisor for feed.
func NewFeedSupervisor(feed domain.LiveFeed, cfg SupervisorConfig, onTick domain.TickHandler, onError domain.ErrorHandler) *FeedSupervisor {
	if cfg.Backoff == nil {
		cfg.Backoff = infra.CalculateBackoff
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &FeedSupervisor{
		feed:       feed,
		ids:        cfg.IDs,
		onTick:     onTick,
		onError:    onError,
		reconnect:  cfg.Reconnect,
		maxRetries: cfg.MaxRetries,
		stableFor:  cfg.StableAfter,
		backoff:    cfg.Backoff,
	}
}

// Start runs the connection loop in the background.
func (s *FeedSupervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

// Stop closes the current subscription and waits for the loop to exit.
func (s *FeedSupervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *FeedSupervisor) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed supervisor panic recovered", slog.String("feed", s.feed.Name()), slog.Any("panic", r))
		}
	}()

	name := s.feed.Name()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sub, err := s.feed.Subscribe(ctx, s.ids, s.onTick, s.onError)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.onError(err)
			if !domain.IsRetriable(err) {
				slog.Error("Feed disabled", slog.String("feed", name), slog.Any("error", err))
				return
			}
		} else {
			slog.Info("🔌 Feed subscribed", slog.String("feed", name))
			connectedAt := time.Now()

			select {
			case <-ctx.Done():
				sub.Close()
				<-sub.Done()
				return
			case <-sub.Done():
			}

			// a connection dropped right after the handshake counts as a failure
			uptime := time.Since(connectedAt)
			if uptime >= s.stableFor {
				retryCount = 0
			}
			slog.Warn("Feed disconnected", slog.String("feed", name), slog.Duration("uptime", uptime))
		}

		if !s.reconnect {
			slog.Info("Feed reconnect disabled", slog.String("feed", name))
			return
		}
		if s.maxRetries > 0 && retryCount >= s.maxRetries {
			slog.Error("Feed giving up", slog.String("feed", name), slog.Int("retries", retryCount))
			return
		}

		delay := s.backoff(retryCount)
		retryCount++
		slog.Warn("Feed resubscribing", slog.String("feed", name), slog.Int("retry", retryCount), slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
