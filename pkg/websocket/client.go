// Package websocket provides a reconnecting JSON websocket client.
package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"deriv_client/internal/core"
	"deriv_client/pkg/telemetry"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("websocket not connected")

// MessageHandler handles one inbound text frame.
type MessageHandler func(message []byte)

// Client keeps one websocket connection alive, reconnecting with backoff.
type Client struct {
	url     string
	handler MessageHandler

	reconnectWait    time.Duration
	maxReconnectWait time.Duration

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected    func()
	onDisconnected func(err error)

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client for url. Nothing is dialled until Start.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of websocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of websocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of handling websocket messages in seconds"))

	return &Client{
		url:              url,
		handler:          handler,
		reconnectWait:    500 * time.Millisecond,
		maxReconnectWait: 30 * time.Second,
		pingInterval:     30 * time.Second,
		pingWait:         10 * time.Second,
		pongWait:         60 * time.Second,
		tracer:           tracer,
		msgCounter:       msgCounter,
		connCounter:      connCounter,
		latencyHist:      latencyHist,
		logger:           logger.WithField("component", "ws_client"),
	}
}

// SetPingConfig sets the ping interval, the ping write deadline and the pong wait.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetReconnectWait sets the initial and maximum reconnect delay.
func (c *Client) SetReconnectWait(initial, maxWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = initial
	c.maxReconnectWait = maxWait
}

// SetOnConnected registers a callback run after every successful dial,
// before any message is read. Subscriptions are replayed here.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnDisconnected registers a callback run whenever a live connection drops.
func (c *Client) SetOnDisconnected(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// IsConnected reports whether a connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes message as a JSON text frame.
func (c *Client) Send(message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Start begins the connect loop. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("websocket client stop: goroutines did not exit within timeout")
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	wait := c.reconnectWait
	c.mu.Unlock()

	for {
		if c.ctx.Err() != nil {
			return
		}

		if err := c.connect(); err != nil {
			c.logger.Error("websocket connect failed", "url", c.url, "error", err, "retry_in", wait)
			if !c.sleep(wait) {
				return
			}
			wait = c.nextWait(wait)
			continue
		}

		c.mu.Lock()
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		wait = c.reconnectWait
		c.mu.Unlock()

		if onConnected != nil {
			onConnected()
		}

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx)
		}

		err := c.readLoop()
		heartbeatCancel()

		c.mu.Lock()
		onDisconnected := c.onDisconnected
		c.mu.Unlock()
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("websocket connection lost", "url", c.url, "error", err)
		if onDisconnected != nil {
			onDisconnected(err)
		}

		if !c.sleep(wait) {
			return
		}
	}
}

func (c *Client) nextWait(wait time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	wait *= 2
	if wait > c.maxReconnectWait {
		wait = c.maxReconnectWait
	}
	return wait
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait))
			c.writeMu.Unlock()
			if err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pongWait := c.pongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() error {
	defer c.closeConn()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		start := time.Now()
		c.msgCounter.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}
