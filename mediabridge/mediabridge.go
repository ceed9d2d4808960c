/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package mediabridge runs the real-time media side of a call. The
// call-setup layer hands over a negotiated call together with the peer
// resource to talk to; the bridge owns one WebRTC peer connection per
// call from that point until hangup.
package mediabridge

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// SignalFunc delivers the local SDP offer for a call to the peer resource
// over whatever session-layer signaling the application uses.
type SignalFunc func(callID string, peer jmtalksdk.Address, sdp string) error

// Config holds the configuration for the media bridge.
type Config struct {
	// ICEServers for the per-call peer connections. Default: Google STUN.
	ICEServers []webrtc.ICEServer
	// Signal delivers SDP offers to the peer. When nil, no offer is sent
	// and the application drives negotiation through Session directly.
	Signal SignalFunc
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Bridge manages the per-call media sessions.
type Bridge struct {
	mu       sync.Mutex
	sessions map[string]*Session
	config   *Config
	logger   jmtalksdk.Logger
}

// New creates a media bridge.
func New(config *Config, logger jmtalksdk.Logger) *Bridge {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ICEServers == nil {
		config.ICEServers = DefaultConfig().ICEServers
	}
	return &Bridge{
		sessions: make(map[string]*Session),
		config:   config,
		logger:   logger,
	}
}

// Start creates the media session for a negotiated call and sends the
// initial SDP offer to the peer resource. There is at most one session
// per call ID; a second Start for the same ID is an error, never a
// second session.
func (b *Bridge) Start(callID string, remote jmtalksdk.Address, media []messaging.MediaKind, peer jmtalksdk.Address) error {
	b.mu.Lock()
	if _, exists := b.sessions[callID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("mediabridge: session for call %s already exists", callID)
	}
	// Reserve the slot before releasing the lock so a concurrent Start
	// for the same call fails fast.
	b.sessions[callID] = nil
	b.mu.Unlock()

	s, err := newSession(callID, peer, media, b.config, b.logger)
	if err != nil {
		b.remove(callID)
		return err
	}

	if b.config.Signal != nil {
		offer, err := s.CreateOffer()
		if err != nil {
			s.Close()
			b.remove(callID)
			return err
		}
		if err := b.config.Signal(callID, peer, offer); err != nil {
			s.Close()
			b.remove(callID)
			return fmt.Errorf("mediabridge: offer for call %s not delivered: %w", callID, err)
		}
	}

	b.mu.Lock()
	b.sessions[callID] = s
	b.mu.Unlock()
	b.logger.Printf("mediabridge: call %s started with %s", callID, peer)
	return nil
}

func (b *Bridge) remove(callID string) {
	b.mu.Lock()
	delete(b.sessions, callID)
	b.mu.Unlock()
}

// Session returns the session for a call, or nil.
func (b *Bridge) Session(callID string) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[callID]
}

// HandleAnswer applies the peer's SDP answer to the call's session.
func (b *Bridge) HandleAnswer(callID string, sdp string) error {
	s := b.Session(callID)
	if s == nil {
		return fmt.Errorf("mediabridge: no session for call %s", callID)
	}
	return s.SetRemoteAnswer(sdp)
}

// HandleCandidate applies a trickled ICE candidate to the call's session.
func (b *Bridge) HandleCandidate(callID string, candidate webrtc.ICECandidateInit) error {
	s := b.Session(callID)
	if s == nil {
		return fmt.Errorf("mediabridge: no session for call %s", callID)
	}
	return s.AddRemoteCandidate(candidate)
}

// End closes the session for a call. Ending an unknown call is a no-op.
func (b *Bridge) End(callID string) error {
	b.mu.Lock()
	s := b.sessions[callID]
	delete(b.sessions, callID)
	b.mu.Unlock()

	if s == nil {
		return nil
	}
	b.logger.Printf("mediabridge: call %s ended", callID)
	return s.Close()
}

// Close ends every active session.
func (b *Bridge) Close() error {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*Session)
	b.mu.Unlock()

	var first error
	for _, s := range sessions {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
