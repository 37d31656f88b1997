// Package peer owns the one-connection-per-remote-participant set: transport
// construction, local track attachment, negotiation state, candidate
// buffering, and automatic teardown on terminal connection states.
package peer

import (
	"github.com/pion/webrtc/v4"
)

// State is the orchestrator's view of a connection's health.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the connection's life. The
// orchestrator never reconnects; a still-present peer gets a fresh connection
// on the next presence reconciliation pass.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

// RemoteTrack describes an inbound track as it arrives from the transport.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
}

// Transport is the negotiation primitive underneath one connection: session
// descriptions, trickled candidates, outbound tracks, and aggregate state.
// CreateOffer and CreateAnswer commit the description locally before
// returning it. The Replace methods swap an outbound track on its live
// sender without renegotiation; a nil track detaches the source so nothing
// is sent until the next replace.
type Transport interface {
	AddTrack(t webrtc.TrackLocal) error
	ReplaceAudioTrack(t webrtc.TrackLocal) error
	ReplaceVideoTrack(t webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnStateChange(func(State))
	Close() error
}

// Factory constructs a fresh Transport per remote peer.
type Factory func() (Transport, error)
