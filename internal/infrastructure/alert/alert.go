// Package alert delivers margin alerts to chat channels.
package alert

import (
	"context"
	"sync"
	"time"

	"deriv_client/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Critical Level = "CRITICAL"
)

type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers one payload. Implementations must be safe for concurrent use.
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Name() string
}

// Manager fans alerts out to every channel without blocking the caller.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	timeout  time.Duration
	logger   core.ILogger
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		timeout: 10 * time.Second,
		logger:  logger.WithField("component", "alert_manager"),
		now:     time.Now,
	}
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Enabled reports whether any channel is configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) > 0
}

// Alert sends asynchronously. Delivery failures are logged.
func (m *Manager) Alert(ctx context.Context, level Level, title, message string, fields map[string]string) {
	p := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: m.now(),
		Fields:    fields,
	}
	m.logger.Info("Triggering alert", "title", title, "level", string(level))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		m.wg.Add(1)
		go func(c Channel) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
			defer cancel()
			if err := c.Send(sendCtx, p); err != nil {
				m.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}
