package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/infra"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"
)

const (
	defaultWSPingInterval = 30 * time.Second
	defaultWSReadTimeout  = 60 * time.Second
	defaultWSBaseDelay    = 1 * time.Second
	defaultWSMaxDelay     = 60 * time.Second
)

// WebSocketConfig describes a market data stream.
type WebSocketConfig struct {
	URL          string
	Instruments  []string // sent in the subscribe message when set
	Timeframe    domain.Timeframe
	Header       http.Header
	PingInterval time.Duration
	ReadTimeout  time.Duration
	BaseDelay    time.Duration // first reconnect delay
	MaxDelay     time.Duration
	MaxRetries   int // consecutive failed attempts before giving up, 0 = never
	Buffer       int
}

// wsMessage is the wire format: one bar or tick per text frame. A bare
// price is read as a tick.
type wsMessage struct {
	Type       string              `json:"type"`
	Instrument string              `json:"instrument"`
	Time       time.Time           `json:"time"`
	Seq        uint64              `json:"seq"`
	Price      decimal.Decimal     `json:"price"`
	Open       decimal.Decimal     `json:"open"`
	High       decimal.Decimal     `json:"high"`
	Low        decimal.Decimal     `json:"low"`
	Close      decimal.Decimal     `json:"close"`
	Volume     decimal.Decimal     `json:"volume"`
	Bid        decimal.NullDecimal `json:"bid"`
	Ask        decimal.NullDecimal `json:"ask"`
}

type wsSubscribe struct {
	Op          string   `json:"op"`
	Instruments []string `json:"instruments"`
}

// WebSocketSource streams market events from a websocket endpoint and
// reconnects with exponential backoff.
type WebSocketSource struct {
	cfg     WebSocketConfig
	sub     *Subscription
	metrics *infra.Metrics
	log     *slog.Logger

	t       *tomb.Tomb
	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	seqs    map[string]uint64 // last sequence number per instrument
}

func NewWebSocketSource(cfg WebSocketConfig, metrics *infra.Metrics) *WebSocketSource {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultWSReadTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultWSBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultWSMaxDelay
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &WebSocketSource{
		cfg:     cfg,
		sub:     NewSubscription(cfg.Buffer),
		metrics: metrics,
		log:     slog.Default().With(slog.String("module", "ws"), slog.String("url", cfg.URL)),
		seqs:    make(map[string]uint64),
	}
}

// Start connects in the background. Next yields io.EOF once the source
// gives up or is stopped.
func (w *WebSocketSource) Start(ctx context.Context) {
	w.t, ctx = tomb.WithContext(ctx)
	w.t.Go(func() error {
		defer w.sub.Close()
		return w.connectionLoop(ctx)
	})
}

func (w *WebSocketSource) Next(ctx context.Context) (domain.MarketEvent, error) {
	return w.sub.Next(ctx)
}

// Stop closes the connection and waits for the reader to exit.
func (w *WebSocketSource) Stop() error {
	if w.t == nil {
		return nil
	}
	w.t.Kill(nil)
	w.closeConnection()
	err := w.t.Wait()
	w.sub.Close()
	w.log.Info("WebSocket disconnected")
	return err
}

// Err reports why the source stopped, if it did.
func (w *WebSocketSource) Err() error {
	if w.t == nil {
		return nil
	}
	select {
	case <-w.t.Dead():
		return w.t.Err()
	default:
		return nil
	}
}

func (w *WebSocketSource) connectionLoop(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.BaseDelay
	eb.MaxInterval = w.cfg.MaxDelay
	eb.MaxElapsedTime = 0
	var policy backoff.BackOff = eb
	if w.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(eb, uint64(w.cfg.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		conn, err := w.connect(ctx)
		if err != nil {
			return err
		}
		// connected: failures start counting again
		attempt = 0
		policy.Reset()

		err = w.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		w.log.Warn("WebSocket connection failed",
			slog.Any("error", err),
			slog.Int("retry", attempt),
			slog.Duration("wait", wait))
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		w.log.Error("WebSocket max retries exceeded", slog.Any("error", err))
		return domain.NewFatalNetworkError("websocket", err)
	}
	return nil
}

func (w *WebSocketSource) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, w.cfg.Header)
	if err != nil {
		return nil, domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	if len(w.cfg.Instruments) > 0 {
		msg, err := json.Marshal(wsSubscribe{Op: "subscribe", Instruments: w.cfg.Instruments})
		if err == nil {
			err = w.threadSafeWrite(websocket.TextMessage, msg)
		}
		if err != nil {
			w.closeConnection()
			return nil, fmt.Errorf("subscribe failed: %w", err)
		}
	}

	w.log.Info("WebSocket connected", slog.Int("instruments", len(w.cfg.Instruments)))
	return conn, nil
}

// threadSafeWrite serializes writes; gorilla connections allow one writer.
func (w *WebSocketSource) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (w *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer w.closeConnection()

	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	})
	for {
		if err := conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Warn("WebSocket read error", slog.Any("error", err))
			}
			return domain.NewNetworkError("read", err)
		}

		ev, ok := w.decode(message)
		if !ok {
			continue
		}
		if !w.sub.Publish(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (w *WebSocketSource) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WebSocketSource) decode(message []byte) (domain.MarketEvent, bool) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		w.log.Debug("WebSocket message parse error", slog.Any("error", err))
		return domain.MarketEvent{}, false
	}
	if msg.Type != "" && msg.Type != "bar" && msg.Type != "tick" {
		return domain.MarketEvent{}, false
	}

	// Frames without a sequence number are numbered per instrument.
	seq := msg.Seq
	if seq == 0 {
		seq = w.seqs[msg.Instrument] + 1
	}
	var ev domain.MarketEvent
	if msg.Close.IsZero() && !msg.Price.IsZero() {
		ev = domain.NewTick(msg.Instrument, msg.Time, seq, msg.Price, msg.Volume)
	} else {
		ev = domain.MarketEvent{
			Instrument: msg.Instrument,
			Time:       msg.Time,
			Seq:        seq,
			Timeframe:  w.cfg.Timeframe,
			Open:       msg.Open,
			High:       msg.High,
			Low:        msg.Low,
			Close:      msg.Close,
			Volume:     msg.Volume,
		}
	}
	ev.Bid, ev.Ask = msg.Bid, msg.Ask
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := ev.Check(); err != nil {
		w.log.Warn("Dropping malformed market event", slog.Any("error", err))
		return domain.MarketEvent{}, false
	}
	w.seqs[msg.Instrument] = seq
	return ev, true
}

// closeConnection safely closes the WebSocket connection
func (w *WebSocketSource) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
	}
}

func (w *WebSocketSource) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}
