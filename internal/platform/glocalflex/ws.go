package glocalflex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// MessageHandler receives every JSON message pushed on a channel.
type MessageHandler func(domain.MarketMessage)

// WSClient is a websocket client for one marketplace push channel. It is
// single-use: after a disconnect the caller dials a new client.
type WSClient struct {
	wsURL     string
	endpoint  string
	tlsVerify bool

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	handlers  []MessageHandler
	handlerMu sync.RWMutex

	// done is closed on Close or when the read loop ends.
	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// NewWSClient creates a client for the channel at endpoint on host.
func NewWSClient(host, endpoint string, tlsVerify bool) *WSClient {
	return &WSClient{
		wsURL:     WSURL(host, endpoint),
		endpoint:  endpoint,
		tlsVerify: tlsVerify,
		done:      make(chan struct{}),
	}
}

// URL returns the dialled websocket URL.
func (w *WSClient) URL() string { return w.wsURL }

// OnMessage registers a handler for parsed messages.
func (w *WSClient) OnMessage(h MessageHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect dials the channel with the bearer token and starts the read and
// ping loops.
func (w *WSClient) Connect(ctx context.Context, token string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("glocalflex/ws: %w", domain.ErrWSDisconnect)
	}
	select {
	case <-w.done:
		return fmt.Errorf("glocalflex/ws: %w", domain.ErrWSDisconnect)
	default:
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	if !w.tlsVerify {
		dialer.TLSClientConfig = insecureTLS()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			if statusErr := checkHTTPStatus(resp.StatusCode, body); statusErr != nil {
				return fmt.Errorf("glocalflex/ws: connect %s: %w", w.endpoint, statusErr)
			}
		}
		return fmt.Errorf("glocalflex/ws: connect %s: %w", w.endpoint, err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Done is closed once the connection is gone.
func (w *WSClient) Done() <-chan struct{} { return w.done }

// Err returns the error that ended the connection, if any.
func (w *WSClient) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close sends a close frame and tears the connection down.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.finish(nil)

	if w.conn != nil {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return w.conn.Close()
	}
	return nil
}

func (w *WSClient) finish(err error) {
	w.doneOnce.Do(func() {
		w.errMu.Lock()
		w.err = err
		w.errMu.Unlock()
		close(w.done)
	})
}

// readLoop reads until the connection fails or is closed.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.finish(fmt.Errorf("glocalflex/ws: read %s: %w: %w", w.endpoint, domain.ErrWSDisconnect, err))
			}
			return
		}
		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches every frame that holds valid JSON. Frames that
// are not JSON are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	if !json.Valid(raw) {
		return
	}

	msg := domain.MarketMessage{
		Endpoint:   w.endpoint,
		Payload:    json.RawMessage(raw),
		ReceivedAt: time.Now().UTC(),
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}
