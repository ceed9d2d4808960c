/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsetup

import (
	"errors"
	"sync"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// ErrDuplicateID is returned by Registry.Put when a proposal with the same
// call ID is already live. Call IDs are generated fresh per proposal, so
// hitting this indicates a duplicate propose on the wire.
var ErrDuplicateID = errors.New("callsetup: duplicate call ID")

// Proposal is one in-flight call negotiation. A proposal is created when a
// propose is sent or received and removed from the registry on its first
// terminal transition; the coordinator is the only mutator and serializes
// all access per call ID.
type Proposal struct {
	// CallID is the opaque call identifier (sid), generated by the
	// proposer and reused as the media-session identifier.
	CallID string

	// Remote is the other end of the call. Immutable once set: for an
	// inbound proposal it is the caller's fully-qualified address as
	// stamped on the propose; for an outbound proposal the callee
	// address the user dialed.
	Remote jmtalksdk.Address

	// PeerResource is the fully-qualified remote resource the call is
	// bound to once known (the proceed sender on the caller side, the
	// propose sender on the callee side).
	PeerResource jmtalksdk.Address

	// Media is the set of media kinds advertised by the proposer.
	Media []messaging.MediaKind

	// Direction distinguishes caller from callee.
	Direction Direction

	// State is the current state-machine position.
	State State

	// LocalResourceWon records, on the callee, whether this resource's
	// own accept won the fan-out race.
	LocalResourceWon bool
}

// Registry is the in-memory table of in-flight call negotiations, keyed by
// call ID. A single mutex guards the whole table; entries are never
// mutated through the registry itself, only inserted and removed, so no
// per-entry locking is needed.
type Registry struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		proposals: make(map[string]*Proposal),
	}
}

// Put inserts a proposal. It returns ErrDuplicateID if a proposal with the
// same call ID is already present.
func (r *Registry) Put(p *Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.proposals[p.CallID]; exists {
		return ErrDuplicateID
	}
	r.proposals[p.CallID] = p
	return nil
}

// Get returns the proposal for the given call ID, or nil if absent.
// Absence is the normal representation of stale, duplicate, or unknown
// call IDs and is never an error.
func (r *Registry) Get(callID string) *Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposals[callID]
}

// Remove deletes the proposal for the given call ID. Removing an absent
// ID is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proposals, callID)
}

// Len returns the number of live proposals.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proposals)
}
