/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsetup

import (
	"testing"
)

func TestEventEmitterOnEmit(t *testing.T) {
	e := NewEventEmitter()

	var got []*Event
	e.On(EventIncoming, func(ev *Event) {
		got = append(got, ev)
	})

	e.Emit(&Event{Key: EventIncoming, CallID: "call-1"})
	e.Emit(&Event{Key: EventRejected, CallID: "call-2"})

	if len(got) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(got))
	}
	if got[0].CallID != "call-1" {
		t.Errorf("Expected call-1, got %s", got[0].CallID)
	}
}

func TestEventEmitterWildcard(t *testing.T) {
	e := NewEventEmitter()

	var keys []EventKey
	e.On("*", func(ev *Event) {
		keys = append(keys, ev.Key)
	})

	e.Emit(&Event{Key: EventIncoming, CallID: "call-1"})
	e.Emit(&Event{Key: EventSuperseded, CallID: "call-1"})

	if len(keys) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(keys))
	}
	if keys[0] != EventIncoming || keys[1] != EventSuperseded {
		t.Errorf("Expected [incoming superseded], got %v", keys)
	}
}

func TestEventEmitterOff(t *testing.T) {
	e := NewEventEmitter()

	var count int
	e.On(EventAccepted, func(ev *Event) {
		count++
	})
	e.Emit(&Event{Key: EventAccepted})

	e.Off(EventAccepted)
	e.Emit(&Event{Key: EventAccepted})

	if count != 1 {
		t.Errorf("Expected 1 delivery after Off, got %d", count)
	}
}

func TestEventEmitterNilHandlerIgnored(t *testing.T) {
	e := NewEventEmitter()
	e.On(EventAccepted, nil)
	// Must not panic
	e.Emit(&Event{Key: EventAccepted})
}
