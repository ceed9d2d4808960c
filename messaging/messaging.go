/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package messaging implements the JMTalk message channel: an
// authenticated, ordered, asynchronous websocket transport for call-setup
// signaling messages. Ordering is guaranteed per sender/recipient pair
// only; the channel preserves it by dispatching inbound messages on the
// read loop, so handlers must never block.
package messaging

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
)

// Config holds the configuration for the messaging channel
type Config struct {
	ForceCloseDelay             time.Duration // Delay after which to force close a websocket connection if no close event is received
	PingInterval                time.Duration // Interval between ping messages
	PongTimeout                 time.Duration // Timeout for receiving a pong response
	WriteTimeout                time.Duration // Deadline for a single outbound write
	BackoffTimeMax              time.Duration // Maximum time between connection attempts
	BackoffTimeReset            time.Duration // Initial time before the first retry
	MaxRetries                  int           // Number of times to retry before giving up
	InitialConnectionMaxRetries int           // Number of times to retry before giving up on the initial connection
	FallbackWebSocketURL        string        // URL used when neither a device provider nor a custom URL is set
}

// DefaultConfig returns the default configuration for the messaging channel
func DefaultConfig() *Config {
	return &Config{
		ForceCloseDelay:             10 * time.Second,
		PingInterval:                30 * time.Second,
		PongTimeout:                 10 * time.Second,
		WriteTimeout:                10 * time.Second,
		BackoffTimeMax:              32 * time.Second,
		BackoffTimeReset:            1 * time.Second,
		MaxRetries:                  3,
		InitialConnectionMaxRetries: 5,
		FallbackWebSocketURL:        "wss://channel.jmtalk.io/messaging/device",
	}
}

// DeviceProvider is an interface for getting the websocket URL from a device
type DeviceProvider interface {
	Register() error
	GetWebSocketURL() (string, error)
}

// Handler is a function that handles an inbound signaling message.
// Handlers run on the channel's read loop and must not block.
type Handler func(msg *Message)

// Client is the messaging channel client
type Client struct {
	core               *jmtalksdk.Client
	config             *Config
	conn               *websocket.Conn
	connected          bool
	connecting         bool
	hasConnected       bool
	mu                 sync.Mutex
	writeMu            sync.Mutex
	handlers           map[string][]Handler
	closeCh            chan struct{}
	timeOffset         int64
	deviceProvider     DeviceProvider
	customWebSocketURL string
}

// New creates a new messaging channel client
func New(core *jmtalksdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		core:     core,
		config:   config,
		handlers: make(map[string][]Handler),
		closeCh:  make(chan struct{}),
	}
}

// Name implements jmtalksdk.Plugin.
func (c *Client) Name() string {
	return "messaging"
}

// SetDeviceProvider sets a device provider to use for getting websocket URLs
func (c *Client) SetDeviceProvider(provider DeviceProvider) {
	c.mu.Lock()
	c.deviceProvider = provider
	c.mu.Unlock()
}

// SetCustomWebSocketURL sets a custom WebSocket URL for the channel connection
func (c *Client) SetCustomWebSocketURL(url string) {
	c.mu.Lock()
	c.customWebSocketURL = url
	c.mu.Unlock()
}

// Connect establishes a websocket connection to the messaging service
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}

	c.connecting = true
	deviceProvider := c.deviceProvider
	customURL := c.customWebSocketURL
	c.mu.Unlock()

	// If we have a custom URL, use it directly
	if customURL != "" {
		return c.connectWithBackoff(customURL)
	}

	// Try to get the websocket URL from the device provider
	if deviceProvider == nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return fmt.Errorf("no device provider or custom URL available")
	}

	// Register the device and get WebSocket URL
	if err := deviceProvider.Register(); err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return fmt.Errorf("failed to register device: %w", err)
	}

	wsURL, err := deviceProvider.GetWebSocketURL()
	if err != nil || wsURL == "" {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to get WebSocket URL from device: %w", err)
		}
		return fmt.Errorf("device provider returned empty WebSocket URL")
	}

	return c.connectWithBackoff(wsURL)
}

// Disconnect closes the websocket connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected && !c.connecting {
		c.mu.Unlock()
		return nil
	}

	// Signal all goroutines to stop, then replace the channel so a later
	// Connect starts with a fresh one
	close(c.closeCh)
	c.closeCh = make(chan struct{})

	conn := c.conn
	c.conn = nil
	c.connected = false
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		// Send close message and close the connection
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnected by client"))
		_ = conn.Close()
	}

	return nil
}

// Listen is an alias for Connect
func (c *Client) Listen() error {
	return c.Connect()
}

// StopListening is an alias for Disconnect
func (c *Client) StopListening() error {
	return c.Disconnect()
}

// On registers a handler for a specific action ("propose", "accept", ...).
// The wildcard "*" receives every signaling message.
func (c *Client) On(action string, handler Handler) {
	if handler == nil {
		return
	}

	c.mu.Lock()
	handlers, ok := c.handlers[action]
	if !ok {
		handlers = []Handler{}
	}
	c.handlers[action] = append(handlers, handler)
	c.mu.Unlock()
}

// Off removes a handler for a specific action
func (c *Client) Off(action string, handler Handler) {
	if handler == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handlers, ok := c.handlers[action]
	if !ok {
		return
	}

	// Find the handler by comparing function pointers
	handlerPtr := fmt.Sprintf("%p", handler)
	for i, h := range handlers {
		if fmt.Sprintf("%p", h) == handlerPtr {
			// Remove handler by preserving order
			c.handlers[action] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}

	// Clean up empty handler slices
	if len(c.handlers[action]) == 0 {
		delete(c.handlers, action)
	}
}

// ClearHandlers removes all handlers for a specific action
func (c *Client) ClearHandlers(action string) {
	c.mu.Lock()
	delete(c.handlers, action)
	c.mu.Unlock()
}

// Handlers returns a copy of the handlers map (for testing)
func (c *Client) Handlers() map[string][]Handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string][]Handler, len(c.handlers))
	for k, v := range c.handlers {
		handlers := make([]Handler, len(v))
		copy(handlers, v)
		result[k] = handlers
	}

	return result
}

// IsConnected returns whether the client is connected to the messaging service
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Publish sends a signaling message over the channel. The send is a single
// write; delivery confirmation is never waited for, failures surface as a
// returned error for the caller to log and report.
func (c *Client) Publish(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("cannot publish %s for call %s: channel not connected", msg.Action, msg.CallID)
	}

	f := frame{
		ID:         msg.ID,
		Type:       frameTypeSignal,
		TrackingID: fmt.Sprintf("go-sdk_%s", uuid.New().String()),
		Signal:     msg,
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}

	payload, err := json.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Action, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s for call %s: %w", msg.Action, msg.CallID, err)
	}
	return nil
}

// connectWithBackoff attempts to connect to the messaging service with exponential backoff
func (c *Client) connectWithBackoff(wsURL string) error {
	c.mu.Lock()
	closeCh := c.closeCh
	maxRetries := c.config.MaxRetries
	if !c.hasConnected {
		maxRetries = c.config.InitialConnectionMaxRetries
	}
	c.mu.Unlock()

	backoff := c.config.BackoffTimeReset
	retryCount := 0

	var err error
	for retryCount <= maxRetries {
		err = c.attemptConnection(wsURL)
		if err == nil {
			return nil // Connection successful
		}

		// Increment retry count
		retryCount++
		if retryCount > maxRetries {
			break // Exceeded max retries
		}

		// Wait for backoff time or until the client is disconnected
		select {
		case <-time.After(backoff):
			// Double the backoff time, up to max
			backoff *= 2
			if backoff > c.config.BackoffTimeMax {
				backoff = c.config.BackoffTimeMax
			}
		case <-closeCh:
			return nil // Stopped by user
		}
	}

	// Couldn't connect after all retries
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	return fmt.Errorf("failed to connect after %d attempts: %w", retryCount, err)
}

// attemptConnection makes a single connection attempt to the messaging service
func (c *Client) attemptConnection(wsURL string) error {
	token := c.core.GetAccessToken()
	parsedURL, err := c.prepareWebSocketURL(wsURL)
	if err != nil {
		return err
	}

	conn, err := c.dialWebSocket(parsedURL.String(), token)
	if err != nil {
		return err
	}

	// Set up pong handler
	conn.SetPongHandler(func(data string) error {
		return c.handlePong(conn, data)
	})

	// Authenticate the connection
	if err = c.authenticateConnection(conn, token); err != nil {
		conn.Close()
		return err
	}

	// Connection successful, update client state. done belongs to this
	// connection alone; closeCh is snapshotted so the goroutines keep
	// watching the channel that was current when they started.
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.hasConnected = true
	closeCh := c.closeCh
	c.mu.Unlock()

	// Start ping/pong cycle and message listener
	go c.startPingPong(conn, closeCh, done)
	go c.listen(conn, closeCh, done)

	return nil
}

// prepareWebSocketURL adds necessary query parameters to the WebSocket URL
func (c *Client) prepareWebSocketURL(wsURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	query := parsedURL.Query()
	query.Set("outboundWireFormat", "text")
	query.Set("clientTimestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	parsedURL.RawQuery = query.Encode()

	return parsedURL, nil
}

// dialWebSocket establishes a WebSocket connection with proper headers
func (c *Client) dialWebSocket(url string, token string) (*websocket.Conn, error) {
	headers := make(map[string][]string)
	headers["Authorization"] = []string{"Bearer " + token}
	headers["TrackingID"] = []string{fmt.Sprintf("go-sdk_%d", time.Now().UnixMilli())}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Only use the client's transport if it exists
	if c.core != nil && c.core.GetHTTPClient() != nil &&
		c.core.GetHTTPClient().Transport != nil {
		if transport, ok := c.core.GetHTTPClient().Transport.(*http.Transport); ok {
			dialer.NetDialContext = transport.DialContext
		}
	}

	conn, _, err := dialer.Dial(url, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	return conn, nil
}

// authenticateConnection sends authentication messages and waits for confirmation
func (c *Client) authenticateConnection(conn *websocket.Conn, token string) error {
	authMsg := map[string]interface{}{
		"id":   uuid.New().String(),
		"type": frameTypeAuthorization,
		"data": map[string]interface{}{
			"token": token,
		},
		"trackingId": fmt.Sprintf("go-sdk_%d", time.Now().UnixMilli()),
	}

	authMsgJSON, err := json.Marshal(authMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal auth message: %w", err)
	}

	if err = conn.WriteMessage(websocket.TextMessage, authMsgJSON); err != nil {
		return fmt.Errorf("failed to send auth message: %w", err)
	}

	// Wait for a status frame to confirm authorization
	authChan := make(chan error, 1)
	go c.waitForAuthConfirmation(conn, authChan)

	select {
	case err := <-authChan:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("authorization timed out after 30 seconds")
	}
}

// waitForAuthConfirmation waits for authorization confirmation frames
func (c *Client) waitForAuthConfirmation(conn *websocket.Conn, authChan chan<- error) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			authChan <- fmt.Errorf("error reading auth response: %w", err)
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}

		switch f.Type {
		case frameTypeStatus:
			// Send initial ping immediately so the server learns our clock
			_ = c.sendInitialPing(conn)
			authChan <- nil // Authorization successful
			return
		case frameTypeError:
			authChan <- fmt.Errorf("authorization failed: %s", string(f.Data))
			return
		}
	}
}

// sendInitialPing sends the first ping after successful authentication
func (c *Client) sendInitialPing(conn *websocket.Conn) error {
	pingMsg := map[string]interface{}{
		"id":   uuid.New().String(),
		"type": frameTypePing,
	}
	pingJSON, err := json.Marshal(pingMsg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, pingJSON)
}

// listen reads frames from the websocket until the connection drops
func (c *Client) listen(conn *websocket.Conn, closeCh, done chan struct{}) {
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Connection closed or error occurred
			c.handleConnectionError(conn, closeCh)
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}

		c.processFrame(&f)
	}
}

// handleConnectionError triggers reconnection if the drop was not deliberate
func (c *Client) handleConnectionError(conn *websocket.Conn, closeCh chan struct{}) {
	c.mu.Lock()
	// A Disconnect or a newer connection may already have replaced this one
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	select {
	case <-closeCh:
		// Client was deliberately disconnected, don't reconnect
	default:
		// Connection error, try to reconnect
		go c.reconnect(conn)
	}
}

// processFrame routes an inbound frame to the signaling dispatch
func (c *Client) processFrame(f *frame) {
	if f.Type != frameTypeSignal || f.Signal == nil {
		// Status and housekeeping frames carry no signaling payload
		return
	}

	msg := f.Signal
	if msg.ID == "" {
		msg.ID = f.ID
	}
	if err := msg.Validate(); err != nil {
		c.core.GetLogger().Printf("messaging: dropping malformed message: %v", err)
		return
	}

	c.dispatch(msg)
}

// dispatch delivers a message to action handlers and wildcard handlers.
// Handlers run inline on the read loop: that is what preserves the
// transport's per-sender ordering guarantee end to end, so handlers are
// required to hand work off (the coordinator enqueues per call ID).
func (c *Client) dispatch(msg *Message) {
	c.mu.Lock()
	handlers := make([]Handler, 0, 2)
	handlers = append(handlers, c.handlers[string(msg.Action)]...)
	handlers = append(handlers, c.handlers["*"]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(msg)
	}
}

// startPingPong begins the ping/pong cycle to keep the connection alive
func (c *Client) startPingPong(conn *websocket.Conn, closeCh, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				// Connection error, reconnect
				c.reconnect(conn)
				return
			}
		case <-closeCh:
			// Connection closed by user
			return
		case <-done:
			// Connection closed unexpectedly
			return
		}
	}
}

// ping sends a ping message
func (c *Client) ping(conn *websocket.Conn) error {
	// Create ping message with timestamp
	pingData := fmt.Sprintf("%d", time.Now().UnixMilli())

	// Set a deadline for the pong
	if err := conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.PingMessage, []byte(pingData))
}

// handlePong handles a pong response
func (c *Client) handlePong(conn *websocket.Conn, data string) error {
	// The pong echoes the ping's Unix-millisecond timestamp
	if data != "" {
		if sent, err := strconv.ParseInt(data, 10, 64); err == nil {
			c.mu.Lock()
			c.timeOffset = time.Now().UnixMilli() - sent
			c.mu.Unlock()
		}
	}

	if conn == nil {
		return nil
	}

	// Reset the read deadline
	return conn.SetReadDeadline(time.Time{})
}

// reconnect attempts to reconnect to the messaging service after the given
// connection dropped. Only one reconnect runs at a time; a stale trigger
// (the read loop and the ping loop can both notice the same drop) is a
// no-op.
func (c *Client) reconnect(stale *websocket.Conn) {
	c.mu.Lock()
	// Proceed only while the dropped connection is still the current one:
	// a concurrent reconnect or a deliberate Disconnect has already
	// replaced or cleared it otherwise.
	if c.connecting || c.conn != stale {
		c.mu.Unlock()
		return
	}

	c.connected = false
	c.connecting = true
	deviceProvider := c.deviceProvider
	customURL := c.customWebSocketURL
	c.conn = nil
	c.mu.Unlock()

	stale.Close()

	wsURL := c.getReconnectURL(deviceProvider, customURL)
	if wsURL == "" {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return
	}

	// Try to connect with backoff
	_ = c.connectWithBackoff(wsURL)
}

// getReconnectURL gets the WebSocket URL for reconnection
func (c *Client) getReconnectURL(deviceProvider DeviceProvider, customURL string) string {
	// Use custom URL if available
	if customURL != "" {
		return customURL
	}

	if deviceProvider != nil {
		// Try to get URL from device provider
		if err := deviceProvider.Register(); err != nil {
			return ""
		}

		wsURL, err := deviceProvider.GetWebSocketURL()
		if err == nil && wsURL != "" {
			return wsURL
		}
	}

	return c.config.FallbackWebSocketURL
}
