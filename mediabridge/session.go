/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package mediabridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
	"github.com/jmtalk/jmtalk-go-sdk/v2/messaging"
)

// Session is the per-call WebRTC peer connection. It is created by the
// bridge when call setup hands a negotiated call over, and lives until
// Close.
type Session struct {
	mu sync.Mutex

	callID string
	peer   jmtalksdk.Address

	pc          *webrtc.PeerConnection
	audioTrack  *webrtc.TrackLocalStaticRTP
	remoteTrack *webrtc.TrackRemote
	muted       bool
	closed      bool
	stopSilence chan struct{}
	silenceOff  bool

	onRemoteTrack func(track *webrtc.TrackRemote)

	logger jmtalksdk.Logger
}

func hasVideo(media []messaging.MediaKind) bool {
	for _, m := range media {
		if m == messaging.MediaVideo {
			return true
		}
	}
	return false
}

// newSession builds the peer connection for one call. Audio is always
// negotiated; a video transceiver is added only when the proposal offered
// video.
func newSession(callID string, peer jmtalksdk.Address, media []messaging.MediaKind, config *Config, logger jmtalksdk.Logger) (*Session, error) {
	// Register PCMU and PCMA explicitly rather than the default codec set;
	// the media gateways negotiate PCMU and extra codecs in the offer cause
	// negotiation trouble with some of them.
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}
	if hasVideo(media) {
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("failed to register VP8: %w", err)
		}
	}

	// Default interceptors (RTCP reports, NACK) are required with a custom
	// MediaEngine, otherwise incoming SRTP is not processed and OnTrack
	// never fires.
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &Session{
		callID:      callID,
		peer:        peer,
		pc:          pc,
		stopSilence: make(chan struct{}),
		logger:      logger,
	}

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		logger.Printf("mediabridge: call %s connection state %s", callID, st)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Printf("mediabridge: call %s remote track codec=%s ssrc=%d", callID, track.Codec().MimeType, track.SSRC())
		s.mu.Lock()
		s.remoteTrack = track
		handler := s.onRemoteTrack
		s.mu.Unlock()
		if handler != nil {
			handler(track)
		}
	})

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio",
		"jmtalk-call",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	// Sendrecv so a proper bidirectional transceiver exists; OnTrack does
	// not fire for the remote audio otherwise.
	transceiver, err := pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	s.audioTrack = track

	// Drain RTCP from the sender to keep the interceptors fed.
	go func() {
		sender := transceiver.Sender()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	if hasVideo(media) {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
		); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}

	go s.silenceKeepalive()

	return s, nil
}

// CallID returns the call this session belongs to.
func (s *Session) CallID() string {
	return s.callID
}

// Peer returns the remote resource the session is bound to.
func (s *Session) Peer() jmtalksdk.Address {
	return s.peer
}

// OnRemoteTrack sets the callback invoked when remote media arrives.
func (s *Session) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteTrack = handler
}

// CreateOffer produces the local SDP offer with ICE candidates gathered.
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	<-webrtc.GatheringCompletePromise(s.pc)

	desc := s.pc.LocalDescription()
	if desc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return desc.SDP, nil
}

// SetRemoteAnswer applies the peer's SDP answer. A duplicate answer after
// the signaling state is already stable is ignored; the channel can
// redeliver after a reconnect.
func (s *Session) SetRemoteAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pc.SignalingState() == webrtc.SignalingStateStable {
		s.logger.Printf("mediabridge: call %s ignoring duplicate answer", s.callID)
		return nil
	}
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// AddRemoteCandidate applies a trickled ICE candidate from the peer.
func (s *Session) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// WriteAudio sends one RTP packet on the local audio track. The first
// real packet stops the silence keepalive. Muted sessions drop the
// packet.
func (s *Session) WriteAudio(pkt *rtp.Packet) error {
	s.mu.Lock()
	muted := s.muted
	track := s.audioTrack
	if !s.silenceOff && !s.closed {
		s.silenceOff = true
		close(s.stopSilence)
	}
	s.mu.Unlock()

	if muted {
		return nil
	}
	return track.WriteRTP(pkt)
}

// Mute stops outbound audio without renegotiating.
func (s *Session) Mute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = true
}

// Unmute resumes outbound audio.
func (s *Session) Unmute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = false
}

// IsMuted reports whether outbound audio is muted.
func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// RemoteTrack returns the remote audio track, or nil before it arrives.
func (s *Session) RemoteTrack() *webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTrack
}

// PeerConnection exposes the underlying connection for advanced use.
func (s *Session) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

// Close tears the session down.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if !s.silenceOff {
		s.silenceOff = true
		close(s.stopSilence)
	}
	s.mu.Unlock()

	return s.pc.Close()
}

// silenceKeepalive writes PCMU silence every 20ms until the application
// feeds real audio or the session closes. Some SBCs drop the media path
// if nothing flows right after connect.
func (s *Session) silenceKeepalive() {
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xFF
	}
	var seq uint16
	var ts uint32
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSilence:
			return
		case <-ticker.C:
			seq++
			ts += 160 // 20ms at 8kHz
			// Write on the track directly; WriteAudio would count this as
			// real audio and stop the keepalive.
			if err := s.audioTrack.WriteRTP(&rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    0,
					SequenceNumber: seq,
					Timestamp:      ts,
					Marker:         seq == 1,
				},
				Payload: payload,
			}); err != nil {
				return
			}
		}
	}
}
