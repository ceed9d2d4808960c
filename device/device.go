/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package device registers this client instance with the JMTalk platform.
// Registration binds the account's resource name for this instance and
// yields the websocket URL the messaging channel connects to.
package device

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
)

// Registration is the platform's record of this client instance.
type Registration struct {
	URL          string `json:"url"`
	WebSocketURL string `json:"webSocketUrl"`
	// Resource is the account resource bound to this instance, e.g.
	// "mobile-4f2a". It becomes the suffix of the full client address.
	Resource string `json:"resource"`
	TTL      int    `json:"ttl,omitempty"`
	ETag     string `json:"-"`
}

// Config holds the configuration for the Device plugin.
type Config struct {
	// Ephemeral registrations expire server-side and are refreshed on a
	// timer at half their TTL.
	Ephemeral bool
	// EphemeralTTL is the requested registration lifetime in seconds.
	EphemeralTTL int
	// DeviceType identifies the client platform to the server.
	DeviceType string
	// DeviceName is a human-readable label for the registration.
	DeviceName string
}

// DefaultConfig returns the default configuration for the Device plugin.
func DefaultConfig() *Config {
	return &Config{
		Ephemeral:    false,
		EphemeralTTL: 86400,
		DeviceType:   "GO_SDK",
		DeviceName:   "JMTalk Go SDK",
	}
}

// Client is the Device plugin. Its GetWebSocketURL method satisfies the
// messaging channel's DeviceProvider.
type Client struct {
	core         *jmtalksdk.Client
	config       *Config
	registration *Registration
	registered   bool
	refreshTimer *time.Timer
	mu           sync.Mutex
	registeredCb []func()
}

// New creates a new Device plugin instance.
func New(core *jmtalksdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		core:   core,
		config: config,
	}
}

// Name returns the plugin name.
func (c *Client) Name() string {
	return "device"
}

type registerRequest struct {
	DeviceType string `json:"deviceType"`
	Name       string `json:"name"`
	TTL        int    `json:"ttl,omitempty"`
}

// Register creates the registration. It is idempotent: an instance that
// is already registered returns immediately. On success the bound
// resource is applied to the core client, completing its full address.
func (c *Client) Register() error {
	c.mu.Lock()
	if c.registration != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	body := registerRequest{
		DeviceType: c.config.DeviceType,
		Name:       c.config.DeviceName,
	}
	if c.config.Ephemeral {
		body.TTL = c.config.EphemeralTTL
	}

	resp, err := c.core.RequestWithRetry(context.Background(), http.MethodPost, "devices", nil, body)
	if err != nil {
		return fmt.Errorf("device registration failed: %w", err)
	}

	var reg Registration
	if err := jmtalksdk.ParseResponse(resp, &reg); err != nil {
		return fmt.Errorf("device registration failed: %w", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		reg.ETag = etag
	}

	c.core.SetResource(reg.Resource)

	c.mu.Lock()
	c.registration = &reg
	c.registered = true
	if c.config.Ephemeral && c.config.EphemeralTTL > 0 {
		c.setupRefreshTimer()
	}
	// Callbacks are one-shot: consume them so a later re-registration
	// cannot fire a subscriber twice
	callbacks := c.registeredCb
	c.registeredCb = nil
	c.mu.Unlock()

	for _, cb := range callbacks {
		go cb()
	}
	return nil
}

// Unregister deletes the registration.
func (c *Client) Unregister() error {
	c.mu.Lock()
	if c.registration == nil {
		c.mu.Unlock()
		return nil
	}
	regURL := c.registration.URL
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()

	resp, err := c.core.Request(http.MethodDelete, regURL, nil, nil)
	if err != nil {
		return fmt.Errorf("device unregistration failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return jmtalksdk.NewAPIError(resp)
	}
	resp.Body.Close()

	c.mu.Lock()
	c.registration = nil
	c.registered = false
	c.mu.Unlock()
	return nil
}

// GetWebSocketURL returns the messaging websocket URL, registering first
// if needed.
func (c *Client) GetWebSocketURL() (string, error) {
	c.mu.Lock()
	reg := c.registration
	c.mu.Unlock()

	if reg == nil {
		if err := c.Register(); err != nil {
			return "", err
		}
		c.mu.Lock()
		reg = c.registration
		c.mu.Unlock()
	}
	return reg.WebSocketURL, nil
}

// GetRegistration returns a copy of the current registration, or nil.
func (c *Client) GetRegistration() *Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registration == nil {
		return nil
	}
	reg := *c.registration
	return &reg
}

// OnRegistered registers a one-shot callback invoked once registration
// completes. If already registered the callback fires immediately.
func (c *Client) OnRegistered(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		go callback()
		return
	}
	c.registeredCb = append(c.registeredCb, callback)
}

// IsRegistered reports whether the instance is registered.
func (c *Client) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// WaitForRegistration blocks until the instance is registered or the
// timeout elapses.
func (c *Client) WaitForRegistration(timeout time.Duration) error {
	if c.IsRegistered() {
		return nil
	}

	waitCh := make(chan struct{})
	c.OnRegistered(func() {
		close(waitCh)
	})

	select {
	case <-waitCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for device registration")
	}
}

// setupRefreshTimer arms the ephemeral refresh. Caller holds the lock.
func (c *Client) setupRefreshTimer() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	refreshIn := time.Duration(c.config.EphemeralTTL/2+60) * time.Second
	c.refreshTimer = time.AfterFunc(refreshIn, func() {
		if err := c.Refresh(); err != nil {
			c.core.GetLogger().Printf("device: refresh failed: %v", err)
		}
	})
}

// Refresh renews an existing registration in place.
func (c *Client) Refresh() error {
	c.mu.Lock()
	if c.registration == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not registered, cannot refresh")
	}
	regURL := c.registration.URL
	etag := c.registration.ETag
	c.mu.Unlock()

	resp, err := c.core.Request(http.MethodPut, regURL, nil, nil)
	if err != nil {
		return err
	}

	// 304 means the registration is unchanged server-side.
	if etag != "" && resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		c.mu.Lock()
		if c.config.Ephemeral && c.config.EphemeralTTL > 0 {
			c.setupRefreshTimer()
		}
		c.mu.Unlock()
		return nil
	}

	var reg Registration
	if err := jmtalksdk.ParseResponse(resp, &reg); err != nil {
		return err
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		reg.ETag = etag
	}

	c.mu.Lock()
	c.registration = &reg
	if c.config.Ephemeral && c.config.EphemeralTTL > 0 {
		c.setupRefreshTimer()
	}
	c.mu.Unlock()
	return nil
}
