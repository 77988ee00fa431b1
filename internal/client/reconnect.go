package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status reflects the connection lifecycle as seen by the device.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 3 * time.Second
)

var errMissingDial = errors.New("client: dial function is required")

// Transport is the connection handle owned exclusively by the controller.
type Transport interface {
	Close() error
}

// DialFunc establishes a new transport connection.
type DialFunc func(ctx context.Context) (Transport, error)

// ControllerConfig configures the reconnection controller. Zero values take
// the defaults: 5 attempts at a fixed 3s delay.
type ControllerConfig struct {
	Dial        DialFunc
	MaxAttempts int
	RetryDelay  time.Duration
	// OnStatus observes transitions. Invoked synchronously; must not call
	// back into the controller.
	OnStatus func(Status)
	Logger   *zap.Logger
}

// Controller manages the device's connection lifecycle with bounded,
// fixed-delay automatic retry. After the attempt cap is exhausted it stays
// disconnected until Connect is called again; an explicit Disconnect cancels
// any pending retry. At most one retry timer exists at a time.
type Controller struct {
	mu          sync.Mutex
	dial        DialFunc
	maxAttempts int
	delay       time.Duration
	onStatus    func(Status)
	logger      *zap.Logger

	status    Status
	attempts  int
	timer     *time.Timer
	transport Transport
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Dial == nil {
		return nil, errMissingDial
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		dial:        cfg.Dial,
		maxAttempts: maxAttempts,
		delay:       delay,
		onStatus:    cfg.OnStatus,
		logger:      logger,
		status:      StatusDisconnected,
	}, nil
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns the number of automatic retries consumed since the last
// successful connection or manual trigger.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect is the manual trigger: it clears any pending retry, resets the
// attempt budget and dials immediately.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.clearTimerLocked()
	c.attempts = 0
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(StatusConnecting)
	dial := c.dial
	c.mu.Unlock()

	transport, err := dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnecting {
		// Disconnect raced the dial; discard the fresh transport.
		if err == nil && transport != nil {
			_ = transport.Close()
		}
		return nil
	}
	if err != nil {
		c.setStatusLocked(StatusError)
		c.scheduleRetryLocked()
		return err
	}
	c.transport = transport
	c.attempts = 0
	c.setStatusLocked(StatusConnected)
	return nil
}

// ConnectionLost reports an unexpected close of the current transport and
// schedules an automatic retry if the budget allows.
func (c *Controller) ConnectionLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return
	}
	c.transport = nil
	c.setStatusLocked(StatusDisconnected)
	c.scheduleRetryLocked()
}

// Disconnect is the explicit user-initiated teardown: it cancels any pending
// retry, closes the transport and transitions straight to disconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.clearTimerLocked()
	c.attempts = 0
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
}

func (c *Controller) scheduleRetryLocked() {
	if c.attempts >= c.maxAttempts {
		c.logger.Warn("reconnect attempts exhausted",
			zap.Int("attempts", c.attempts))
		c.setStatusLocked(StatusDisconnected)
		return
	}
	c.attempts++
	c.clearTimerLocked()
	attempt := c.attempts
	c.timer = time.AfterFunc(c.delay, func() {
		c.logger.Info("reconnecting", zap.Int("attempt", attempt))
		_ = c.connect(context.Background())
	})
}

func (c *Controller) clearTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) setStatusLocked(status Status) {
	if c.status == status {
		return
	}
	c.status = status
	if c.onStatus != nil {
		c.onStatus(status)
	}
}
