// Package feed holds the websocket plumbing shared by the streaming price feeds.
// Endpoint packages supply a URL and a Decoder; feed owns the connection,
// the read loop and the close semantics.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"crypto_view/internal/domain"
	"crypto_view/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultReadTimeout      = 60 * time.Second
)

// Decoder normalizes one raw message into zero or more ticks. Only AssetID and
// the price fields need to be set; the subscription stamps the rest.
// A message may yield ticks and an error together when only part of it is bad.
type Decoder interface {
	Decode(msg []byte) ([]domain.LiveTick, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(msg []byte) ([]domain.LiveTick, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(msg []byte) ([]domain.LiveTick, error) { return f(msg) }

// Recorder receives connection and decode counters. *infra.Metrics satisfies it.
type Recorder interface {
	RecordMalformed()
	IncrementConnections()
	DecrementConnections()
}

type nopRecorder struct{}

func (nopRecorder) RecordMalformed()      {}
func (nopRecorder) IncrementConnections() {}
func (nopRecorder) DecrementConnections() {}

// Options configures one subscription.
type Options struct {
	Source  string
	URL     string
	Decoder Decoder
	Seq     *domain.SeqSource

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration

	Recorder Recorder
	Now      func() time.Time
}

func (o *Options) setDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Seq == nil {
		o.Seq = &domain.SeqSource{}
	}
}

// Subscription is one open websocket. It does not reconnect: after a transport
// error it reports once through onError and closes itself.
type Subscription struct {
	opts    Options
	onTick  domain.TickHandler
	onError domain.ErrorHandler

	conn    *websocket.Conn
	writeMu sync.Mutex

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Dial connects to opts.URL and starts reading. The returned subscription
// lives until Close, ctx cancellation or a transport error.
func Dial(ctx context.Context, opts Options, onTick domain.TickHandler, onError domain.ErrorHandler) (*Subscription, error) {
	if opts.Decoder == nil {
		return nil, errors.New("feed: decoder is required")
	}
	if onTick == nil {
		return nil, errors.New("feed: tick handler is required")
	}
	opts.setDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		return nil, &domain.SubscriptionError{
			Source: opts.Source,
			Err:    fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err),
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		opts:    opts,
		onTick:  onTick,
		onError: onError,
		conn:    conn,
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	opts.Recorder.IncrementConnections()
	slog.Info("Feed connected", slog.String("source", opts.Source))

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Close stops the subscription. Safe to call more than once and on nil.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closing.Store(true)
	s.shutdown()
}

// Done is closed once the connection is gone.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		s.conn.Close()
		s.opts.Recorder.DecrementConnections()

		go func() {
			s.wg.Wait()
			close(s.done)
			slog.Info("Feed disconnected", slog.String("source", s.opts.Source))
		}()
	})
}

func (s *Subscription) readLoop() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed panic recovered", slog.String("source", s.opts.Source), slog.Any("panic", r))
			s.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		s.handleMessage(message)
	}
}

// fail reports a transport error unless the close was requested, then closes.
func (s *Subscription) fail(err error) {
	if !s.closing.Load() {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			slog.Warn("Feed read error", slog.String("source", s.opts.Source), slog.Any("error", err))
		}
		if s.onError != nil {
			s.onError(&domain.SubscriptionError{Source: s.opts.Source, Err: err})
		}
	}
	s.shutdown()
}

func (s *Subscription) handleMessage(message []byte) {
	ticks, err := s.opts.Decoder.Decode(message)
	if err != nil {
		s.opts.Recorder.RecordMalformed()
		slog.Debug("Feed message dropped",
			slog.Any("error", &domain.MalformedMessageError{Source: s.opts.Source, Err: err}),
		)
	}
	if len(ticks) == 0 {
		return
	}

	now := s.opts.Now()
	for _, t := range ticks {
		t.AssetID = domain.NormalizeAssetID(string(t.AssetID))
		t.Seq = s.opts.Seq.Next()
		t.ReceivedAt = now
		t.Source = s.opts.Source
		s.onTick(t)
	}
}

func (s *Subscription) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				// The read loop sees the same broken connection and reports it.
				slog.Debug("Feed ping failed", slog.String("source", s.opts.Source), slog.Any("error", err))
				return
			}
		}
	}
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (s *Subscription) threadSafeWrite(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}
