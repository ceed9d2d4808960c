/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package jmtalk is the top-level entry point of the JMTalk Go SDK. It
// aggregates the core API client with the device, messaging, call-setup
// and media-bridge plugins.
package jmtalk

import (
	"fmt"
	"sync"

	"github.com/jmtalk/jmtalk-go-sdk/v2/callsetup"
	"github.com/jmtalk/jmtalk-go-sdk/v2/device"
	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/mediabridge"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// Client is the top-level client for the JMTalk platform.
type Client struct {
	core *jmtalksdk.Client

	messagingClient *messaging.Client
	deviceClient    *device.Client
	callSetupClient *callsetup.Client
	bridge          *mediabridge.Bridge

	// Mutex for thread-safe lazy initialization of the call-setup stack
	setupMu sync.Mutex
}

// NewClient creates a new JMTalk client with the given access token and
// optional configuration.
func NewClient(accessToken string, config *jmtalksdk.Config) (*Client, error) {
	core, err := jmtalksdk.NewClient(accessToken, config)
	if err != nil {
		return nil, err
	}
	return &Client{core: core}, nil
}

// Core returns the core JMTalk client.
func (c *Client) Core() *jmtalksdk.Client {
	return c.core
}

// Device returns the Device plugin.
func (c *Client) Device() *device.Client {
	if c.deviceClient == nil {
		c.deviceClient = device.New(c.core, nil)
		c.core.RegisterPlugin(c.deviceClient)
	}
	return c.deviceClient
}

// Messaging returns the Messaging plugin. The Device plugin is wired in
// as its websocket URL provider.
func (c *Client) Messaging() *messaging.Client {
	if c.messagingClient == nil {
		c.messagingClient = messaging.New(c.core, nil)
		c.messagingClient.SetDeviceProvider(c.Device())
		c.core.RegisterPlugin(c.messagingClient)
	}
	return c.messagingClient
}

// MediaBridge returns the media bridge used for call sessions.
func (c *Client) MediaBridge() *mediabridge.Bridge {
	if c.bridge == nil {
		c.bridge = mediabridge.New(nil, c.core.GetLogger())
	}
	return c.bridge
}

// CallSetup returns a fully-wired CallSetup client: the device is
// registered, the messaging channel is connected, and the five signaling
// actions are routed into the call-setup coordinator.
//
// Simple usage:
//
//	cs, err := client.CallSetup()
//	cs.On(callsetup.EventIncoming, handler)
//	callID, _ := cs.Propose("bob@jmtalk.io")
//
// For advanced control over the notification sink or the media bridge,
// construct the pieces directly (callsetup.New, mediabridge.New) instead.
func (c *Client) CallSetup() (*callsetup.Client, error) {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	if c.callSetupClient != nil {
		return c.callSetupClient, nil
	}

	// Registration binds the account resource; the full local address
	// must be known before any accept can be recognized as our own echo.
	if err := c.Device().Register(); err != nil {
		return nil, fmt.Errorf("device registration failed: %w", err)
	}

	mc := c.Messaging()
	if err := mc.Connect(); err != nil {
		return nil, fmt.Errorf("messaging connect failed: %w", err)
	}

	cs := callsetup.New(c.core, &callsetup.Config{Bridge: c.MediaBridge()})
	cs.ConnectMessaging(mc)
	c.core.RegisterPlugin(cs)

	c.callSetupClient = cs
	return c.callSetupClient, nil
}
