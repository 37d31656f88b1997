// Package media owns the local capture: camera and microphone acquisition,
// mute and camera-off toggles, and the outgoing-video substitution that
// screen sharing performs on every live connection.
package media

import (
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrAccessDenied means camera/microphone capture is unavailable. The
	// session degrades to chat-only instead of aborting.
	ErrAccessDenied = errors.New("media: access denied")
	// ErrScreenShareDenied means the share was cancelled or refused; no local
	// state changed.
	ErrScreenShareDenied = errors.New("media: screen share denied")
)

// Track is a local outbound track. It binds to the peer transport via
// webrtc.TrackLocal. The enabled flag records the mute state; the Manager
// silences a disabled track by detaching it from every live sender, so the
// flag itself never has to reach the encoder.
type Track interface {
	webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	// OnEnded fires once when the underlying capture stops out-of-band, e.g.
	// the OS-level stop-sharing affordance ending a screen track.
	OnEnded(func())
	Close() error
}

// Stream id prefixes classify outbound video so receivers can distinguish a
// shared screen from a camera. The transport carries the stream id in-band
// (msid); nothing else about the track reveals its surface.
const (
	streamCamera = "camera:"
	streamScreen = "screen:"
)

// CameraStreamID returns the stream id for participantID's camera feed.
func CameraStreamID(participantID string) string { return streamCamera + participantID }

// ScreenStreamID returns the stream id for participantID's screen feed.
func ScreenStreamID(participantID string) string { return streamScreen + participantID }

// IsScreenStream reports whether a received stream id names a shared screen.
func IsScreenStream(streamID string) bool { return strings.HasPrefix(streamID, streamScreen) }
