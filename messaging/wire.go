/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
)

// Action is one of the five control actions of the call-setup handshake.
type Action string

const (
	ActionPropose Action = "propose"
	ActionRetract Action = "retract"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionProceed Action = "proceed"
)

// String implements fmt.Stringer.
func (a Action) String() string {
	return string(a)
}

// MediaKind is a media stream kind advertised in a propose.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Message is a single call-setup signaling message.
//
// Addressing follows the handshake rules: propose and retract go from the
// caller to the callee's bare identity; accept is self-addressed (callee
// full address to callee bare address) so the server fan-out reaches every
// resource of the account; reject goes to the caller's bare identity;
// proceed is point-to-point between two fully-qualified resources.
type Message struct {
	// ID is the transport-level message identifier.
	ID string `json:"id,omitempty"`

	// From is the sender address as stamped by the server. For fan-out
	// deliveries each recipient sees the original sender's full address.
	From jmtalksdk.Address `json:"from"`

	// To is the destination address, bare or fully qualified.
	To jmtalksdk.Address `json:"to"`

	// Action is the control action carried by this message.
	Action Action `json:"action"`

	// CallID is the call identifier (sid). Generated by the proposer and
	// reused as the media-session identifier after a successful handoff.
	CallID string `json:"callId"`

	// Media lists the media kinds being offered. Propose only.
	Media []MediaKind `json:"media,omitempty"`
}

// Validate checks the fields every inbound message must carry before it
// is handed to the coordinator.
func (m *Message) Validate() error {
	switch m.Action {
	case ActionPropose, ActionRetract, ActionAccept, ActionReject, ActionProceed:
	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
	if m.CallID == "" {
		return fmt.Errorf("%s message is missing a call ID", m.Action)
	}
	if m.From == "" {
		return fmt.Errorf("%s message for call %s has no sender", m.Action, m.CallID)
	}
	return nil
}

// HasVideo reports whether the offered media includes video.
func (m *Message) HasVideo() bool {
	for _, kind := range m.Media {
		if kind == MediaVideo {
			return true
		}
	}
	return false
}

// ProposeMessageID returns the conventional transport ID for a propose,
// derived from the call ID so retransmissions are deduplicated server-side.
func ProposeMessageID(callID string) string {
	return "jm-propose-" + callID
}

// NewPropose builds a propose message offering the given media kinds.
// Audio is always offered; callers add MediaVideo for a video call.
func NewPropose(callID string, from, to jmtalksdk.Address, media ...MediaKind) *Message {
	if len(media) == 0 {
		media = []MediaKind{MediaAudio}
	}
	return &Message{
		ID:     ProposeMessageID(callID),
		From:   from,
		To:     to.Bare(),
		Action: ActionPropose,
		CallID: callID,
		Media:  media,
	}
}

// NewRetract builds a retract message addressed to the callee's bare identity.
func NewRetract(callID string, from, to jmtalksdk.Address) *Message {
	return &Message{
		From:   from,
		To:     to.Bare(),
		Action: ActionRetract,
		CallID: callID,
	}
}

// NewAccept builds the self-addressed accept: from the local full address
// to the local bare address. The server fan-out delivers it to every
// connected resource of the account, which is what resolves the
// multi-resource race.
func NewAccept(callID string, local jmtalksdk.Address) *Message {
	return &Message{
		From:   local,
		To:     local.Bare(),
		Action: ActionAccept,
		CallID: callID,
	}
}

// NewReject builds a reject message addressed to the caller's bare identity.
func NewReject(callID string, from, to jmtalksdk.Address) *Message {
	return &Message{
		From:   from,
		To:     to.Bare(),
		Action: ActionReject,
		CallID: callID,
	}
}

// NewProceed builds the point-to-point proceed from the winning callee
// resource to the caller's fully-qualified address.
func NewProceed(callID string, from, to jmtalksdk.Address) *Message {
	return &Message{
		From:   from,
		To:     to,
		Action: ActionProceed,
		CallID: callID,
	}
}

// frame is the websocket envelope. Signaling messages ride in frames of
// type "signal"; authorization and status frames manage the connection.
type frame struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	TrackingID string          `json:"trackingId,omitempty"`
	Signal     *Message        `json:"signal,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

const (
	frameTypeSignal        = "signal"
	frameTypeAuthorization = "authorization"
	frameTypeStatus        = "status"
	frameTypeError         = "error"
	frameTypePing          = "ping"
)
