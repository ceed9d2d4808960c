/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsetup

import (
	"sync"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// ---- Proposal State & Event Enums ----

// State represents the state of a call proposal in the state machine.
// Proposed and Accepted are the only non-terminal states: a proposal that
// reaches anything else is removed from the registry and never mutated
// again.
type State string

const (
	StateProposed   State = "proposed"
	StateAccepted   State = "accepted"
	StateProceeding State = "proceeding"
	StateRejected   State = "rejected"
	StateRetracted  State = "retracted"
	StateEnded      State = "ended"
	StateSuperseded State = "superseded"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s != StateProposed && s != StateAccepted
}

// Direction indicates whether a proposal is inbound or outbound
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// EventKey identifies the type of call-setup event
type EventKey string

const (
	// EventProposed fires on the caller when a propose has been sent; the
	// embedding app opens its outgoing-call surface keyed by the call ID.
	EventProposed EventKey = "proposed"
	// EventIncoming fires on the callee when a propose arrives.
	EventIncoming EventKey = "incoming"
	// EventAccepted fires when the local side commits to the call.
	EventAccepted EventKey = "accepted"
	// EventProceeding fires when the media session handoff has started.
	EventProceeding EventKey = "proceeding"
	// EventRejected fires when the call is declined: on the caller when
	// the callee declines, and on the callee when the call is declined
	// locally or by a sibling resource.
	EventRejected EventKey = "rejected"
	// EventRetracted fires when the caller cancels before any accept.
	EventRetracted EventKey = "retracted"
	// EventSuperseded fires on a callee resource that lost the accept race.
	EventSuperseded EventKey = "superseded"
	// EventSetupFailure fires when a send or bridge start fails and the
	// handoff is aborted.
	EventSetupFailure EventKey = "setup_failure"
)

// Event is the payload delivered to event handlers.
type Event struct {
	Key    EventKey
	CallID string
	Remote jmtalksdk.Address
	Media  []messaging.MediaKind
	// Reason carries a human-readable cause for setup_failure events.
	Reason string
}

// ---- Event Emitter ----

// EventHandler is a callback function for call-setup events
type EventHandler func(event *Event)

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventKey][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventKey][]EventHandler),
	}
}

// On registers an event handler for a specific event key
func (e *EventEmitter) On(key EventKey, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[key] = append(e.handlers[key], handler)
}

// Off removes all handlers for a specific event key
func (e *EventEmitter) Off(key EventKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, key)
}

// Emit fires an event, calling all handlers registered for its key and
// all wildcard ("*") handlers.
func (e *EventEmitter) Emit(event *Event) {
	e.mu.RLock()
	handlers := make([]EventHandler, 0, len(e.handlers[event.Key])+len(e.handlers["*"]))
	handlers = append(handlers, e.handlers[event.Key]...)
	handlers = append(handlers, e.handlers["*"]...)
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
