package media

import (
	"sync"

	"go.uber.org/zap"
)

// ReplaceFunc swaps the outbound track of one kind on a live connection's
// sender without renegotiation. A nil track detaches the source so the
// sender transmits nothing until the next replace.
type ReplaceFunc func(Track) error

// Sender is one connection's pair of replacement hooks.
type Sender struct {
	ReplaceAudio ReplaceFunc
	ReplaceVideo ReplaceFunc
}

// Manager owns the local capture for one session: the microphone and camera
// tracks, the mute/camera-off toggles, and the screen-share substitution
// fanned out to every registered connection. Toggles act on the senders
// themselves: mute detaches the microphone from every live connection, the
// replaceTrack-with-null idiom, so nothing is encoded or sent while muted.
type Manager struct {
	log           *zap.Logger
	provider      Provider
	participantID string

	mu             sync.Mutex
	audio          Track
	camera         Track
	screen         Track
	acquiringShare bool
	degraded       bool
	muted          bool
	cameraOff      bool
	senders        map[string]Sender // remote participant id -> hooks
}

// NewManager returns a Manager that has not yet acquired capture.
func NewManager(provider Provider, participantID string, log *zap.Logger) *Manager {
	return &Manager{
		log:           log,
		provider:      provider,
		participantID: participantID,
		senders:       make(map[string]Sender),
	}
}

// Acquire requests camera+microphone capture. On denial the manager enters
// degraded mode: the session continues chat-only and all toggles become
// no-ops. The ErrAccessDenied return lets the caller surface a notification.
func (m *Manager) Acquire() error {
	audio, video, err := m.provider.UserMedia(m.participantID)
	if err != nil {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		m.log.Warn("media capture denied, continuing in degraded mode", zap.Error(err))
		return err
	}
	m.mu.Lock()
	m.audio = audio
	m.camera = video
	m.mu.Unlock()
	return nil
}

// Degraded reports whether capture was denied.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Tracks returns the tracks a new connection should send: microphone plus
// the active video source (screen while sharing, camera otherwise). Empty in
// degraded mode.
func (m *Manager) Tracks() []Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Track
	if m.audio != nil {
		out = append(out, m.audio)
	}
	switch {
	case m.screen != nil:
		out = append(out, m.screen)
	case m.camera != nil:
		out = append(out, m.camera)
	}
	return out
}

// SetMuted detaches or reattaches the microphone on every live sender. No
// renegotiation; the enabled flag on the track records the state.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	if m.degraded || m.audio == nil || m.muted == muted {
		m.mu.Unlock()
		return
	}
	m.muted = muted
	m.audio.SetEnabled(!muted)
	audio := m.audio
	senders := m.sendersLocked()
	m.mu.Unlock()

	if muted {
		m.fanOutAudio(senders, nil)
	} else {
		m.fanOutAudio(senders, audio)
	}
}

// Muted reports the current microphone state.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// SetCameraOff detaches or reattaches the camera on every live sender.
// While a screen share is active the screen stays the outgoing video and
// only the flag changes.
func (m *Manager) SetCameraOff(off bool) {
	m.mu.Lock()
	if m.degraded || m.camera == nil || m.cameraOff == off {
		m.mu.Unlock()
		return
	}
	m.cameraOff = off
	m.camera.SetEnabled(!off)
	camera := m.camera
	sharing := m.screen != nil
	senders := m.sendersLocked()
	m.mu.Unlock()

	if sharing {
		return
	}
	if off {
		m.fanOutVideo(senders, nil)
	} else {
		m.fanOutVideo(senders, camera)
	}
}

// CameraOff reports the current camera state.
func (m *Manager) CameraOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraOff
}

// Sharing reports whether a screen track is the active video source.
func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// RegisterSender adds a connection's replacement hooks. A connection that
// arrives while muted or with the camera off starts detached; one arriving
// mid-share already got the screen track via Tracks().
func (m *Manager) RegisterSender(remoteID string, s Sender) {
	m.mu.Lock()
	m.senders[remoteID] = s
	muted := m.muted
	videoOff := m.cameraOff && m.screen == nil
	m.mu.Unlock()

	if muted {
		m.replaceOn(remoteID, s.ReplaceAudio, nil)
	}
	if videoOff {
		m.replaceOn(remoteID, s.ReplaceVideo, nil)
	}
}

// UnregisterSender drops a closed connection's hooks.
func (m *Manager) UnregisterSender(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.senders, remoteID)
}

// StartScreenShare acquires a screen track, detaches the camera as the
// outgoing video source, and replaces the track on every live sender. The
// screen track ending out-of-band (native stop-sharing affordance) runs the
// same stop path as StopScreenShare.
func (m *Manager) StartScreenShare() error {
	m.mu.Lock()
	if m.degraded || m.screen != nil || m.acquiringShare {
		m.mu.Unlock()
		return nil
	}
	m.acquiringShare = true
	m.mu.Unlock()

	screen, err := m.provider.DisplayMedia(m.participantID)

	m.mu.Lock()
	m.acquiringShare = false
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.screen = screen
	senders := m.sendersLocked()
	m.mu.Unlock()

	screen.OnEnded(func() {
		m.log.Info("screen track ended by capture source")
		m.StopScreenShare()
	})

	m.fanOutVideo(senders, screen)
	return nil
}

// StopScreenShare stops the screen track and restores the camera as the
// outgoing video source on every live sender. Idempotent; safe to call from
// the track's end-of-track handler.
func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	screen := m.screen
	if screen == nil {
		m.mu.Unlock()
		return
	}
	m.screen = nil
	camera := m.camera
	// Returning to camera view re-enables it, matching the user expectation
	// that stopping a share shows their face again.
	m.cameraOff = false
	if camera != nil {
		camera.SetEnabled(true)
	}
	senders := m.sendersLocked()
	m.mu.Unlock()

	if err := screen.Close(); err != nil {
		m.log.Warn("closing screen track", zap.Error(err))
	}
	if camera != nil {
		m.fanOutVideo(senders, camera)
	}
}

// Close stops all capture. Called once on hang-up.
func (m *Manager) Close() {
	m.StopScreenShare()
	m.mu.Lock()
	audio, camera := m.audio, m.camera
	m.audio, m.camera = nil, nil
	m.senders = make(map[string]Sender)
	m.mu.Unlock()
	if audio != nil {
		if err := audio.Close(); err != nil {
			m.log.Warn("closing audio track", zap.Error(err))
		}
	}
	if camera != nil {
		if err := camera.Close(); err != nil {
			m.log.Warn("closing camera track", zap.Error(err))
		}
	}
}

func (m *Manager) sendersLocked() map[string]Sender {
	out := make(map[string]Sender, len(m.senders))
	for id, s := range m.senders {
		out[id] = s
	}
	return out
}

func (m *Manager) fanOutAudio(senders map[string]Sender, t Track) {
	for remoteID, s := range senders {
		m.replaceOn(remoteID, s.ReplaceAudio, t)
	}
}

func (m *Manager) fanOutVideo(senders map[string]Sender, t Track) {
	for remoteID, s := range senders {
		m.replaceOn(remoteID, s.ReplaceVideo, t)
	}
}

func (m *Manager) replaceOn(remoteID string, replace ReplaceFunc, t Track) {
	if replace == nil {
		return
	}
	if err := replace(t); err != nil {
		m.log.Warn("replace outbound track failed",
			zap.String("remote", remoteID), zap.Error(err))
	}
}
