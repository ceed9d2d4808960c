/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messaging

import (
	"encoding/json"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name        string
		msg         *Message
		expectError bool
	}{
		{
			name: "Valid propose",
			msg: &Message{
				From:   "alice@jmtalk.io/mobile-4f2a",
				To:     "bob@jmtalk.io",
				Action: ActionPropose,
				CallID: "call-1",
				Media:  []MediaKind{MediaAudio},
			},
		},
		{
			name: "Unknown action",
			msg: &Message{
				From:   "alice@jmtalk.io/mobile-4f2a",
				Action: "dance",
				CallID: "call-1",
			},
			expectError: true,
		},
		{
			name: "Missing call ID",
			msg: &Message{
				From:   "alice@jmtalk.io/mobile-4f2a",
				Action: ActionAccept,
			},
			expectError: true,
		},
		{
			name: "Missing sender",
			msg: &Message{
				Action: ActionReject,
				CallID: "call-1",
			},
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.expectError && err == nil {
				t.Errorf("Expected validation error")
			}
			if !tc.expectError && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestNewProposeAddressing(t *testing.T) {
	msg := NewPropose("call-1", "alice@jmtalk.io/mobile-4f2a", "bob@jmtalk.io/desk-1")

	if msg.Action != ActionPropose {
		t.Errorf("Expected propose action, got %s", msg.Action)
	}
	// Propose goes to the bare identity so every resource of the callee rings
	if msg.To != "bob@jmtalk.io" {
		t.Errorf("Expected bare destination, got %s", msg.To)
	}
	if msg.ID != "jm-propose-call-1" {
		t.Errorf("Expected conventional propose ID, got %s", msg.ID)
	}
	// Audio is offered by default
	if len(msg.Media) != 1 || msg.Media[0] != MediaAudio {
		t.Errorf("Expected default audio offer, got %v", msg.Media)
	}
	if msg.HasVideo() {
		t.Errorf("Expected no video in default offer")
	}

	video := NewPropose("call-2", "alice@jmtalk.io/mobile-4f2a", "bob@jmtalk.io", MediaAudio, MediaVideo)
	if !video.HasVideo() {
		t.Errorf("Expected video offer to carry video")
	}
}

func TestNewAcceptIsSelfAddressed(t *testing.T) {
	msg := NewAccept("call-1", "alice@jmtalk.io/mobile-4f2a")

	// The accept goes from our full address to our own bare address; the
	// server fan-out is what lets every sibling resource observe it
	if msg.From != "alice@jmtalk.io/mobile-4f2a" {
		t.Errorf("Expected full sender address, got %s", msg.From)
	}
	if msg.To != "alice@jmtalk.io" {
		t.Errorf("Expected own bare destination, got %s", msg.To)
	}
	if msg.Action != ActionAccept {
		t.Errorf("Expected accept action, got %s", msg.Action)
	}
}

func TestNewRejectGoesToCallerBare(t *testing.T) {
	msg := NewReject("call-1", "bob@jmtalk.io/desk-1", "alice@jmtalk.io/mobile-4f2a")
	if msg.To != "alice@jmtalk.io" {
		t.Errorf("Expected bare destination, got %s", msg.To)
	}
}

func TestNewProceedIsPointToPoint(t *testing.T) {
	msg := NewProceed("call-1", "bob@jmtalk.io/desk-1", "alice@jmtalk.io/mobile-4f2a")

	// Proceed binds two specific resources; the destination keeps its suffix
	if msg.To != "alice@jmtalk.io/mobile-4f2a" {
		t.Errorf("Expected fully-qualified destination, got %s", msg.To)
	}
	if msg.From != "bob@jmtalk.io/desk-1" {
		t.Errorf("Expected fully-qualified sender, got %s", msg.From)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := frame{
		ID:   "frame-1",
		Type: frameTypeSignal,
		Signal: &Message{
			From:   "alice@jmtalk.io/mobile-4f2a",
			To:     "bob@jmtalk.io",
			Action: ActionPropose,
			CallID: "call-1",
			Media:  []MediaKind{MediaAudio, MediaVideo},
		},
	}

	payload, err := json.Marshal(&f)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded frame
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Type != frameTypeSignal {
		t.Errorf("Expected signal frame, got %s", decoded.Type)
	}
	if decoded.Signal == nil {
		t.Fatal("Expected signal payload")
	}
	if decoded.Signal.CallID != "call-1" {
		t.Errorf("Expected call-1, got %s", decoded.Signal.CallID)
	}
	if !decoded.Signal.HasVideo() {
		t.Errorf("Expected video to survive the round trip")
	}
}
