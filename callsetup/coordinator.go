/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsetup

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// Publisher sends outbound signaling messages. *messaging.Client satisfies
// it; tests substitute a fake.
type Publisher interface {
	Publish(msg *messaging.Message) error
}

// MediaBridge is the real-time session layer. Start is invoked exactly
// once per successfully negotiated proposal, keyed by the same call ID,
// and never for a proposal that ends in Rejected, Retracted or
// Superseded. Session establishment and teardown beyond Start belong to
// the bridge, not the coordinator.
type MediaBridge interface {
	Start(callID string, remote jmtalksdk.Address, media []messaging.MediaKind, peer jmtalksdk.Address) error
}

// NotificationSink surfaces call affordances to the user. All methods are
// coordinator-to-sink; user decisions flow back by calling Accept or
// Reject on the coordinator.
type NotificationSink interface {
	// ShowIncoming surfaces an incoming-call affordance for the proposal.
	ShowIncoming(callID string, from jmtalksdk.Address, media []messaging.MediaKind)
	// Dismiss cancels the affordance for the given call, if any.
	Dismiss(callID string)
	// ShowMissed surfaces a missed-call notification after a retract.
	ShowMissed(from jmtalksdk.Address)
	// ShowRejected reports that the remote party declined the call.
	ShowRejected(remote jmtalksdk.Address)
	// ShowOutgoingRetracted confirms a locally cancelled outgoing call.
	ShowOutgoingRetracted(remote jmtalksdk.Address)
	// ShowSetupFailure reports a call that could not be set up (send or
	// media handoff failure).
	ShowSetupFailure(callID string, reason string)
}

// errNoChannel is returned when a signal is sent before ConnectMessaging.
var errNoChannel = errors.New("callsetup: no messaging channel connected")

// noopSink is used when the embedder supplies no sink and drives its UI
// from the event emitter instead.
type noopSink struct{}

func (noopSink) ShowIncoming(string, jmtalksdk.Address, []messaging.MediaKind) {}
func (noopSink) Dismiss(string)                                               {}
func (noopSink) ShowMissed(jmtalksdk.Address)                                 {}
func (noopSink) ShowRejected(jmtalksdk.Address)                               {}
func (noopSink) ShowOutgoingRetracted(jmtalksdk.Address)                      {}
func (noopSink) ShowSetupFailure(string, string)                              {}

// Coordinator is the per-account call-setup state machine. It owns the
// proposal registry, consumes inbound wire events and local user actions,
// and hands successfully negotiated calls to the media bridge.
//
// Every event is enqueued on a per-call-ID FIFO, so transitions for one
// call are strictly serialized while different calls proceed concurrently.
// Handlers treat an absent registry entry as the normal representation of
// "stale, duplicate or already finished" and ignore it silently.
type Coordinator struct {
	local    func() jmtalksdk.Address
	pub      Publisher
	bridge   MediaBridge
	sink     NotificationSink
	registry *Registry
	logger   jmtalksdk.Logger
	disp     *dispatcher

	// Emitter publishes call-setup events to the embedding application.
	Emitter *EventEmitter
}

// NewCoordinator creates a Coordinator. local must return the
// fully-qualified address of this client instance; it is a function
// because the resource suffix is only known after device registration.
// sink may be nil, in which case only events are emitted.
func NewCoordinator(local func() jmtalksdk.Address, pub Publisher, bridge MediaBridge, sink NotificationSink, logger jmtalksdk.Logger) *Coordinator {
	if sink == nil {
		sink = noopSink{}
	}
	return &Coordinator{
		local:    local,
		pub:      pub,
		bridge:   bridge,
		sink:     sink,
		registry: NewRegistry(),
		logger:   logger,
		disp:     newDispatcher(),
		Emitter:  NewEventEmitter(),
	}
}

// publish guards against use before a messaging channel is bound.
func (c *Coordinator) publish(msg *messaging.Message) error {
	if c.pub == nil {
		return errNoChannel
	}
	return c.pub.Publish(msg)
}

// Registry exposes the proposal registry (for tests and diagnostics).
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Flush blocks until every queued event has been processed. Tests and
// shutdown paths use it; normal operation never needs to.
func (c *Coordinator) Flush() {
	c.disp.wait()
}

// HandleMessage consumes one inbound signaling message. It only enqueues
// and returns immediately, so it is safe to call from the message
// channel's read loop.
func (c *Coordinator) HandleMessage(msg *messaging.Message) {
	c.disp.enqueue(msg.CallID, func() {
		switch msg.Action {
		case messaging.ActionPropose:
			c.handlePropose(msg)
		case messaging.ActionRetract:
			c.handleRetract(msg)
		case messaging.ActionAccept:
			c.handleAccept(msg)
		case messaging.ActionReject:
			c.handleReject(msg)
		case messaging.ActionProceed:
			c.handleProceed(msg)
		}
	})
}

// ---- Local actions (caller side) ----

// Propose starts an outgoing call to the given party, offering the given
// media kinds (audio if none are named). It returns the generated call ID
// immediately; the propose message is sent asynchronously.
func (c *Coordinator) Propose(remote jmtalksdk.Address, media ...messaging.MediaKind) (string, error) {
	if len(media) == 0 {
		media = []messaging.MediaKind{messaging.MediaAudio}
	}
	callID := uuid.New().String()

	p := &Proposal{
		CallID:    callID,
		Remote:    remote,
		Media:     media,
		Direction: DirectionOutbound,
		State:     StateProposed,
	}
	if err := c.registry.Put(p); err != nil {
		// Unreachable with freshly generated UUIDs.
		return "", fmt.Errorf("callsetup: %w", err)
	}

	c.disp.enqueue(callID, func() {
		c.emit(EventProposed, p, "")
		if err := c.publish(messaging.NewPropose(callID, c.local(), remote, media...)); err != nil {
			c.logger.Printf("callsetup: propose for call %s failed: %v", callID, err)
			// An unsent propose can never terminate; drop it and tell the user.
			c.registry.Remove(callID)
			c.sink.ShowSetupFailure(callID, err.Error())
			c.emit(EventSetupFailure, p, err.Error())
		}
	})
	return callID, nil
}

// Retract cancels an outgoing call before the callee has accepted. Once
// the proposal has reached Accepted or Proceeding the retract is
// suppressed: the handoff to the media layer has begun and hanging up at
// that layer is the correct cancellation path.
func (c *Coordinator) Retract(callID string) {
	c.disp.enqueue(callID, func() {
		p := c.registry.Get(callID)
		if p == nil || p.Direction != DirectionOutbound {
			c.logger.Printf("callsetup: retract for unknown call %s ignored", callID)
			return
		}
		if p.State != StateProposed {
			c.logger.Printf("callsetup: retract suppressed for call %s in state %s", callID, p.State)
			return
		}

		if err := c.publish(messaging.NewRetract(callID, c.local(), p.Remote)); err != nil {
			// The remote side will time out instead; local state still advances.
			c.logger.Printf("callsetup: retract for call %s failed: %v", callID, err)
			c.sink.ShowSetupFailure(callID, err.Error())
		}
		p.State = StateRetracted
		c.registry.Remove(callID)
		c.sink.ShowOutgoingRetracted(p.Remote)
		c.emit(EventRetracted, p, "")
	})
}

// ---- Local actions (callee side) ----

// Accept commits this resource to an incoming call. The accept message is
// self-addressed: it goes to the local bare identity and the server fans
// it out to every connected resource of the account, including this one.
// No state changes here; the proposal advances when the echo comes back,
// which is what makes the multi-resource race resolvable by every sibling
// from the same observation.
func (c *Coordinator) Accept(callID string) {
	c.disp.enqueue(callID, func() {
		p := c.registry.Get(callID)
		if p == nil || p.Direction != DirectionInbound || p.State != StateProposed {
			c.logger.Printf("callsetup: accept for unknown or finished call %s ignored", callID)
			return
		}

		if err := c.publish(messaging.NewAccept(callID, c.local())); err != nil {
			c.logger.Printf("callsetup: accept for call %s failed: %v", callID, err)
			c.sink.ShowSetupFailure(callID, err.Error())
			c.emit(EventSetupFailure, p, err.Error())
		}
	})
}

// Reject declines an incoming call. The reject is addressed to the
// caller's bare identity; local state advances even if the send fails.
func (c *Coordinator) Reject(callID string) {
	c.disp.enqueue(callID, func() {
		p := c.registry.Get(callID)
		if p == nil || p.Direction != DirectionInbound || p.State != StateProposed {
			c.logger.Printf("callsetup: reject for unknown or finished call %s ignored", callID)
			return
		}

		if err := c.publish(messaging.NewReject(callID, c.local(), p.Remote)); err != nil {
			c.logger.Printf("callsetup: reject for call %s failed: %v", callID, err)
			c.sink.ShowSetupFailure(callID, err.Error())
		}
		p.State = StateRejected
		c.registry.Remove(callID)
		c.sink.Dismiss(callID)
		c.emit(EventRejected, p, "")
	})
}

// ---- Wire event handlers ----

// handlePropose registers an inbound call and surfaces the incoming-call
// affordance.
func (c *Coordinator) handlePropose(msg *messaging.Message) {
	p := &Proposal{
		CallID:       msg.CallID,
		Remote:       msg.From,
		PeerResource: msg.From,
		Media:        msg.Media,
		Direction:    DirectionInbound,
		State:        StateProposed,
	}
	if err := c.registry.Put(p); err != nil {
		c.logger.Printf("callsetup: duplicate propose for call %s ignored", msg.CallID)
		return
	}

	c.sink.ShowIncoming(msg.CallID, msg.From, msg.Media)
	c.emit(EventIncoming, p, "")
}

// handleAccept resolves the multi-resource race on the callee and, on the
// caller, reacts to deployments that deliver the accept directly.
func (c *Coordinator) handleAccept(msg *messaging.Message) {
	p := c.registry.Get(msg.CallID)
	if p == nil {
		c.logger.Printf("callsetup: accept for unknown call %s ignored", msg.CallID)
		return
	}
	if p.State != StateProposed {
		return
	}

	local := c.local()
	switch p.Direction {
	case DirectionInbound:
		switch {
		case msg.From == local:
			// Our own accept echoed back: this resource won the race.
			p.LocalResourceWon = true
			p.State = StateAccepted
			c.sink.Dismiss(msg.CallID)
			c.emit(EventAccepted, p, "")
			c.proceed(p, p.PeerResource)
		case msg.From.SameAccount(local):
			// Another resource of our account accepted first. Fall silent;
			// the winner alone owns the proceed handshake.
			p.State = StateSuperseded
			c.registry.Remove(msg.CallID)
			c.sink.Dismiss(msg.CallID)
			c.emit(EventSuperseded, p, "")
		default:
			c.logger.Printf("callsetup: accept for call %s from unrelated sender %s ignored", msg.CallID, msg.From)
		}

	case DirectionOutbound:
		// The callee's accept reached us directly. Answer the specific
		// resource that accepted, not the bare identity.
		if !msg.From.SameAccount(p.Remote) {
			c.logger.Printf("callsetup: accept for call %s from unexpected party %s ignored", msg.CallID, msg.From)
			return
		}
		p.State = StateAccepted
		c.emit(EventAccepted, p, "")
		c.proceed(p, msg.From)
	}
}

// proceed sends the point-to-point proceed to the given resource and hands
// the call to the media bridge. Any failure aborts the handoff: the bridge
// is never started after a failed send, and the user always sees why.
func (c *Coordinator) proceed(p *Proposal, peer jmtalksdk.Address) {
	if err := c.publish(messaging.NewProceed(p.CallID, c.local(), peer)); err != nil {
		c.logger.Printf("callsetup: proceed for call %s failed: %v", p.CallID, err)
		c.abortSetup(p, err)
		return
	}
	c.startBridge(p, peer)
}

// startBridge invokes the media bridge exactly once and retires the
// proposal. After Proceeding the bridge owns the call; the coordinator
// never touches it again, which is also why a late retract or duplicate
// accept finds nothing to act on.
func (c *Coordinator) startBridge(p *Proposal, peer jmtalksdk.Address) {
	if err := c.bridge.Start(p.CallID, p.Remote, p.Media, peer); err != nil {
		c.logger.Printf("callsetup: media bridge start for call %s failed: %v", p.CallID, err)
		c.abortSetup(p, err)
		return
	}
	p.PeerResource = peer
	p.State = StateProceeding
	c.registry.Remove(p.CallID)
	c.emit(EventProceeding, p, "")
}

// abortSetup tears down a proposal whose handoff failed.
func (c *Coordinator) abortSetup(p *Proposal, cause error) {
	p.State = StateEnded
	c.registry.Remove(p.CallID)
	c.sink.Dismiss(p.CallID)
	c.sink.ShowSetupFailure(p.CallID, cause.Error())
	c.emit(EventSetupFailure, p, cause.Error())
}

// handleProceed completes the caller side of the handshake: the callee's
// winning resource confirmed, so bind the media session to it.
func (c *Coordinator) handleProceed(msg *messaging.Message) {
	p := c.registry.Get(msg.CallID)
	if p == nil {
		c.logger.Printf("callsetup: proceed for unknown call %s ignored", msg.CallID)
		return
	}
	if p.Direction != DirectionOutbound || p.State != StateProposed {
		return
	}

	p.State = StateAccepted
	c.emit(EventAccepted, p, "")
	c.startBridge(p, msg.From)
}

// handleReject ends an outgoing call the callee declined, and dismisses
// an incoming call a sibling resource declined.
func (c *Coordinator) handleReject(msg *messaging.Message) {
	p := c.registry.Get(msg.CallID)
	if p == nil {
		c.logger.Printf("callsetup: reject for unknown call %s ignored", msg.CallID)
		return
	}
	if p.State != StateProposed {
		return
	}

	local := c.local()
	switch p.Direction {
	case DirectionOutbound:
		p.State = StateRejected
		c.registry.Remove(msg.CallID)
		c.sink.Dismiss(msg.CallID)
		c.sink.ShowRejected(p.Remote)
		c.emit(EventRejected, p, "")

	case DirectionInbound:
		// A sibling resource declined the call for the whole account.
		if msg.From.SameAccount(local) && msg.From != local {
			p.State = StateRejected
			c.registry.Remove(msg.CallID)
			c.sink.Dismiss(msg.CallID)
			c.emit(EventRejected, p, "")
		}
	}
}

// handleRetract ends an incoming call the caller cancelled before any
// accept. A retract arriving after acceptance finds the proposal gone or
// no longer Proposed and must not undo the handoff.
func (c *Coordinator) handleRetract(msg *messaging.Message) {
	p := c.registry.Get(msg.CallID)
	if p == nil {
		c.logger.Printf("callsetup: retract for unknown call %s ignored", msg.CallID)
		return
	}
	if p.Direction != DirectionInbound || p.State != StateProposed {
		return
	}

	p.State = StateRetracted
	c.registry.Remove(msg.CallID)
	c.sink.Dismiss(msg.CallID)
	c.sink.ShowMissed(p.Remote)
	c.emit(EventRetracted, p, "")
}

func (c *Coordinator) emit(key EventKey, p *Proposal, reason string) {
	c.Emitter.Emit(&Event{
		Key:    key,
		CallID: p.CallID,
		Remote: p.Remote,
		Media:  p.Media,
		Reason: reason,
	})
}
