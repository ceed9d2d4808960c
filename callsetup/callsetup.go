/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package callsetup implements the pre-session call signaling handshake:
// propose, retract, accept, reject and proceed. It carries a call from the
// first ring to the moment the media bridge takes over, resolving the race
// between multiple signed-in devices of one account along the way.
package callsetup

import (
	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// Config holds the configuration for the CallSetup plugin.
type Config struct {
	// Bridge receives negotiated calls. Required.
	Bridge MediaBridge
	// Sink surfaces call affordances to the user. Optional; when nil the
	// embedder drives its UI from coordinator events instead.
	Sink NotificationSink
}

// DefaultConfig returns the default configuration. A media bridge must
// still be supplied before the plugin is usable.
func DefaultConfig() *Config {
	return &Config{}
}

// Client is the CallSetup plugin.
type Client struct {
	core        *jmtalksdk.Client
	config      *Config
	coordinator *Coordinator
}

// New creates a new CallSetup plugin instance.
func New(core *jmtalksdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Client{
		core:   core,
		config: config,
	}
	c.coordinator = NewCoordinator(core.Address, nil, config.Bridge, config.Sink, core.GetLogger())
	return c
}

// Name returns the plugin name.
func (c *Client) Name() string {
	return "callsetup"
}

// Coordinator returns the underlying call-setup coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// On registers a handler for a call-setup event key ("*" for all).
func (c *Client) On(key EventKey, handler EventHandler) {
	c.coordinator.Emitter.On(key, handler)
}

// ConnectMessaging binds the plugin to a connected messaging client: all
// five signaling actions are routed into the coordinator, and outbound
// signals are published on the same channel. Must be called before any
// call can be placed or received.
func (c *Client) ConnectMessaging(mc *messaging.Client) {
	c.coordinator.pub = mc
	for _, action := range []messaging.Action{
		messaging.ActionPropose,
		messaging.ActionRetract,
		messaging.ActionAccept,
		messaging.ActionReject,
		messaging.ActionProceed,
	} {
		mc.On(action.String(), c.coordinator.HandleMessage)
	}
}

// Propose places an outgoing call. See Coordinator.Propose.
func (c *Client) Propose(remote jmtalksdk.Address, media ...messaging.MediaKind) (string, error) {
	return c.coordinator.Propose(remote, media...)
}

// Accept answers an incoming call. See Coordinator.Accept.
func (c *Client) Accept(callID string) {
	c.coordinator.Accept(callID)
}

// Reject declines an incoming call. See Coordinator.Reject.
func (c *Client) Reject(callID string) {
	c.coordinator.Reject(callID)
}

// Retract cancels an outgoing call. See Coordinator.Retract.
func (c *Client) Retract(callID string) {
	c.coordinator.Retract(callID)
}
