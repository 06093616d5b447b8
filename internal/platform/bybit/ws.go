package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the silence tolerated before the connection is
	// considered dead. Bybit answers every ping, so it only needs to exceed
	// the ping period.
	readWait = 60 * time.Second

	// DefaultPingPeriod is how often an application-level ping is sent.
	DefaultPingPeriod = 20 * time.Second
)

// ErrRejected is returned by Wait when the exchange refuses a subscribe or
// auth request. The connection stays up but will never carry the data.
var ErrRejected = errors.New("bybit/ws: request rejected")

// OrderbookHandler is called for every decoded order book frame, on the read
// goroutine and in arrival order.
type OrderbookHandler func(OrderbookMessage)

// WSClient is a websocket client for the Bybit v5 public stream. One client
// serves one connection; reconnecting is the caller's job.
type WSClient struct {
	wsURL      string
	pingPeriod time.Duration
	logger     *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	handlerMu sync.RWMutex
	handlers  map[string]OrderbookHandler

	done      chan struct{}
	closeOnce sync.Once
	readErr   chan error
}

// NewWSClient creates a client for wsURL. A zero pingPeriod selects
// DefaultPingPeriod.
func NewWSClient(wsURL string, pingPeriod time.Duration, logger *slog.Logger) *WSClient {
	if pingPeriod <= 0 {
		pingPeriod = DefaultPingPeriod
	}
	return &WSClient{
		wsURL:      wsURL,
		pingPeriod: pingPeriod,
		logger:     logger.With(slog.String("component", "bybit_ws")),
		handlers:   make(map[string]OrderbookHandler),
		done:       make(chan struct{}),
		readErr:    make(chan error, 1),
	}
}

// OnOrderbook registers h for every topic starting with prefix.
func (w *WSClient) OnOrderbook(prefix string, h OrderbookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers[prefix] = h
}

// Connect dials the endpoint and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	select {
	case <-w.done:
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()

	go w.readLoop(conn)
	go w.pingLoop()
	return nil
}

// Authenticate sends an auth frame for private channels.
func (w *WSClient) Authenticate(auth Auth) error {
	if err := w.send(auth.AuthCommand(time.Now())); err != nil {
		return fmt.Errorf("bybit/ws: auth: %w", err)
	}
	return nil
}

// Subscribe subscribes to topics in a single request.
func (w *WSClient) Subscribe(topics ...string) error {
	args := make([]any, len(topics))
	for i, t := range topics {
		args[i] = t
	}
	if err := w.send(Command{ReqID: uuid.NewString(), Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe %v: %w", topics, err)
	}
	return nil
}

// Wait blocks until the connection drops or ctx is done.
func (w *WSClient) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-w.readErr:
		return err
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (w *WSClient) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		if w.conn == nil {
			return
		}
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = w.conn.Close()
	})
	return err
}

func (w *WSClient) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return domain.ErrWSDisconnect
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				w.fail(nil)
			default:
				w.fail(fmt.Errorf("bybit/ws: read: %w: %w", domain.ErrWSDisconnect, err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		if err := w.dispatch(message); err != nil {
			w.logger.Warn("dropping message", slog.String("error", err.Error()))
		}
	}
}

// fail reports the first terminal error to Wait; later ones are dropped.
func (w *WSClient) fail(err error) {
	select {
	case w.readErr <- err:
	default:
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.send(Command{Op: "ping"}); err != nil {
				w.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// dispatch decodes one frame and routes order book data to the handler whose
// prefix matches the topic.
func (w *WSClient) dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("bybit/ws: %w: %w", domain.ErrMalformed, err)
	}

	if env.Topic == "" {
		w.handleControl(env)
		return nil
	}
	h := w.handlerFor(env.Topic)
	if h == nil {
		return nil
	}
	msg, err := DecodeOrderbook(env)
	if err != nil {
		return err
	}
	h(msg)
	return nil
}

func (w *WSClient) handlerFor(topic string) OrderbookHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	if h, ok := w.handlers[topic]; ok {
		return h
	}
	for prefix, h := range w.handlers {
		if strings.HasPrefix(topic, prefix) {
			return h
		}
	}
	return nil
}

func (w *WSClient) handleControl(env Envelope) {
	switch env.Op {
	case "pong", "ping":
		return
	case "subscribe", "auth":
		if env.Success != nil && !*env.Success {
			w.logger.Error("request rejected",
				slog.String("op", env.Op),
				slog.String("ret_msg", env.RetMsg),
			)
			w.fail(fmt.Errorf("%w: %s: %s", ErrRejected, env.Op, env.RetMsg))
			return
		}
		w.logger.Info("request acknowledged", slog.String("op", env.Op), slog.String("conn_id", env.ConnID))
	}
}
