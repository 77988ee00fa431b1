package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/nestlinghq/nestling/backend/internal/activity"
	"github.com/nestlinghq/nestling/backend/internal/realtime"
	"go.uber.org/zap"
)

var (
	errMissingServerURL = errors.New("client: server url is required")
	errMissingFamilyID  = errors.New("client: family id is required")
	errNotConnected     = errors.New("client: not connected")
)

// Config configures a device-side sync client.
type Config struct {
	// ServerURL is the backend base URL, e.g. "ws://localhost:8080" or
	// "http://localhost:8080" (http schemes are rewritten to ws).
	ServerURL string
	FamilyID  string
	// DeviceID identifies this device for self-echo suppression; generated
	// when absent.
	DeviceID    string
	MaxAttempts int
	RetryDelay  time.Duration
	OnStatus    func(Status)
	Logger      *zap.Logger
}

// Client composes the websocket transport, the reconnection controller and
// the reconciler into one device-side endpoint. The websocket handle is owned
// exclusively by the controller; no other component touches it.
type Client struct {
	wsURL      string
	deviceID   string
	reconciler *Reconciler
	controller *Controller
	logger     *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, errMissingServerURL
	}
	if strings.TrimSpace(cfg.FamilyID) == "" {
		return nil, errMissingFamilyID
	}
	deviceID := strings.TrimSpace(cfg.DeviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wsURL, err := websocketURL(cfg.ServerURL, cfg.FamilyID, deviceID)
	if err != nil {
		return nil, err
	}

	c := &Client{
		wsURL:      wsURL,
		deviceID:   deviceID,
		reconciler: NewReconciler(deviceID),
		logger:     logger,
	}

	controller, err := NewController(ControllerConfig{
		Dial:        c.dial,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		OnStatus:    cfg.OnStatus,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	c.controller = controller
	return c, nil
}

// Reconciler exposes the local activity cache and its derived views.
func (c *Client) Reconciler() *Reconciler {
	return c.reconciler
}

// DeviceID returns this device's identifier.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Status reports the connection lifecycle state.
func (c *Client) Status() Status {
	return c.controller.Status()
}

// Connect dials the server; the initial snapshot arrives asynchronously on
// the read loop.
func (c *Client) Connect(ctx context.Context) error {
	return c.controller.Connect(ctx)
}

// Close tears the connection down and cancels any pending reconnect.
func (c *Client) Close() {
	c.controller.Disconnect()
}

// SendActivity pushes an activity change to the server for relay. The server
// overwrites senderId with this connection's device id regardless of what is
// set here.
func (c *Client) SendActivity(ctx context.Context, action realtime.Action, record activity.Record) error {
	payload, err := realtime.MarshalActivity(action, record, "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (c *Client) dial(ctx context.Context) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return &wsTransport{conn: conn}, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			c.controller.ConnectionLost()
			return
		}

		event, err := realtime.ParseEvent(payload)
		if err != nil {
			c.logger.Warn("discarding malformed message", zap.Error(err))
			continue
		}
		c.reconciler.Apply(event)
	}
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func websocketURL(serverURL, familyID, deviceID string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", fmt.Errorf("client: parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws"
	query := parsed.Query()
	query.Set("familyId", familyID)
	query.Set("deviceId", deviceID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
