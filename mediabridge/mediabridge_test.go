/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package mediabridge

import (
	"log"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

const testPeer = "bob@jmtalk.io/desk-1"

// testConfig avoids external STUN so tests never touch the network.
func testConfig() *Config {
	return &Config{ICEServers: []webrtc.ICEServer{}}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.ICEServers) == 0 {
		t.Error("Expected a default STUN server")
	}
	if cfg.Signal != nil {
		t.Error("Expected no default signal function")
	}
}

func TestStartCreatesSession(t *testing.T) {
	b := New(testConfig(), log.Default())
	defer b.Close()

	err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	s := b.Session("call-1")
	if s == nil {
		t.Fatal("Expected a session for call-1")
	}
	if s.CallID() != "call-1" {
		t.Errorf("Expected call ID call-1, got %s", s.CallID())
	}
	if s.Peer() != testPeer {
		t.Errorf("Expected peer %s, got %s", testPeer, s.Peer())
	}
}

func TestStartRejectsDuplicateCallID(t *testing.T) {
	b := New(testConfig(), log.Default())
	defer b.Close()

	if err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// At most one session per call, no matter how often Start is invoked
	if err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer); err == nil {
		t.Fatal("Expected error for duplicate call ID")
	}
}

func TestStartWithVideo(t *testing.T) {
	b := New(testConfig(), log.Default())
	defer b.Close()

	err := b.Start("call-1", "bob@jmtalk.io",
		[]messaging.MediaKind{messaging.MediaAudio, messaging.MediaVideo}, testPeer)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if b.Session("call-1") == nil {
		t.Fatal("Expected a session for a video call")
	}
}

func TestEnd(t *testing.T) {
	b := New(testConfig(), log.Default())

	if err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := b.End("call-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if b.Session("call-1") != nil {
		t.Error("Expected session to be gone after End")
	}

	// Ending an unknown call is a no-op
	if err := b.End("call-1"); err != nil {
		t.Errorf("Unexpected error on repeated End: %v", err)
	}

	// The same call ID is usable again after End
	if err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b.Close()
}

func TestHandleAnswerUnknownCall(t *testing.T) {
	b := New(testConfig(), log.Default())
	defer b.Close()

	if err := b.HandleAnswer("never-seen", "v=0"); err == nil {
		t.Error("Expected error for unknown call")
	}
	if err := b.HandleCandidate("never-seen", webrtc.ICECandidateInit{}); err == nil {
		t.Error("Expected error for unknown call")
	}
}

func TestSessionMute(t *testing.T) {
	b := New(testConfig(), log.Default())
	defer b.Close()

	if err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s := b.Session("call-1")

	if s.IsMuted() {
		t.Error("Expected session to start unmuted")
	}
	s.Mute()
	if !s.IsMuted() {
		t.Error("Expected session to be muted")
	}
	s.Unmute()
	if s.IsMuted() {
		t.Error("Expected session to be unmuted")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	b := New(testConfig(), log.Default())

	if err := b.Start("call-1", "bob@jmtalk.io", []messaging.MediaKind{messaging.MediaAudio}, testPeer); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s := b.Session("call-1")

	if err := s.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Unexpected error on second close: %v", err)
	}
	b.Close()
}

func TestHasVideo(t *testing.T) {
	if hasVideo([]messaging.MediaKind{messaging.MediaAudio}) {
		t.Error("Expected audio-only to report no video")
	}
	if !hasVideo([]messaging.MediaKind{messaging.MediaAudio, messaging.MediaVideo}) {
		t.Error("Expected video to be detected")
	}
	if hasVideo(nil) {
		t.Error("Expected empty media to report no video")
	}
}
