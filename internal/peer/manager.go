package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/internal/media"
)

// RemoteStream describes an inbound media stream with the out-of-band
// context the transport cannot carry: the sender's display name from
// presence and the screen classification from the stream id.
type RemoteStream struct {
	PeerID   string
	Name     string
	StreamID string
	Screen   bool
}

// Manager owns the peer map: at most one connection per remote participant,
// exclusively mutated here and read-only everywhere else.
type Manager struct {
	log     *zap.Logger
	factory Factory
	media   *media.Manager

	onStream    func(RemoteStream)
	onClosed    func(remoteID string)
	onCandidate func(remoteID string, c webrtc.ICECandidateInit)

	mu      sync.Mutex
	peers   map[string]*Peer
	streams map[string]map[string]struct{} // peer id -> announced stream ids
}

// NewManager builds an empty peer map. Handlers must be set before Ensure.
func NewManager(factory Factory, mediaMgr *media.Manager, log *zap.Logger) *Manager {
	return &Manager{
		log:     log,
		factory: factory,
		media:   mediaMgr,
		peers:   make(map[string]*Peer),
		streams: make(map[string]map[string]struct{}),
	}
}

// OnRemoteStream registers the inbound-stream observer.
func (m *Manager) OnRemoteStream(f func(RemoteStream)) { m.onStream = f }

// OnClosed registers the teardown observer.
func (m *Manager) OnClosed(f func(remoteID string)) { m.onClosed = f }

// OnLocalCandidate registers the outbound trickle observer.
func (m *Manager) OnLocalCandidate(f func(remoteID string, c webrtc.ICECandidateInit)) {
	m.onCandidate = f
}

// Ensure returns the connection for remoteID, constructing it if absent.
// Construction attaches all current local tracks, registers the video sender
// for screen-share substitution, and wires state/track/candidate observers.
// Idempotent: an existing connection is returned untouched.
func (m *Manager) Ensure(remoteID, name string) (*Peer, error) {
	m.mu.Lock()
	if p, ok := m.peers[remoteID]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	tr, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("construct transport for %s: %w", remoteID, err)
	}

	for _, t := range m.media.Tracks() {
		if err := tr.AddTrack(t); err != nil {
			tr.Close()
			return nil, fmt.Errorf("attach local track: %w", err)
		}
	}

	p := newPeer(remoteID, name, tr)

	m.mu.Lock()
	if existing, ok := m.peers[remoteID]; ok {
		// Lost the construction race; keep the first connection.
		m.mu.Unlock()
		tr.Close()
		return existing, nil
	}
	m.peers[remoteID] = p
	m.mu.Unlock()

	m.media.RegisterSender(remoteID, media.Sender{
		ReplaceAudio: func(t media.Track) error { return tr.ReplaceAudioTrack(t) },
		ReplaceVideo: func(t media.Track) error { return tr.ReplaceVideoTrack(t) },
	})

	tr.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if m.onCandidate != nil {
			m.onCandidate(remoteID, c)
		}
	})

	tr.OnTrack(func(rt RemoteTrack) {
		m.mu.Lock()
		if m.streams[remoteID] == nil {
			m.streams[remoteID] = make(map[string]struct{})
		}
		if _, seen := m.streams[remoteID][rt.StreamID]; seen {
			m.mu.Unlock()
			return
		}
		m.streams[remoteID][rt.StreamID] = struct{}{}
		m.mu.Unlock()

		m.log.Info("remote stream",
			zap.String("peer", remoteID),
			zap.String("stream", rt.StreamID))
		if m.onStream != nil {
			m.onStream(RemoteStream{
				PeerID:   remoteID,
				Name:     name,
				StreamID: rt.StreamID,
				Screen:   media.IsScreenStream(rt.StreamID),
			})
		}
	})

	tr.OnStateChange(func(s State) {
		m.log.Info("connection state",
			zap.String("peer", remoteID),
			zap.String("state", s.String()))
		if s == StateConnected {
			p.markEstablished()
		}
		if s.Terminal() {
			m.Teardown(remoteID)
		}
	})

	return p, nil
}

// Get returns the connection for remoteID if one exists.
func (m *Manager) Get(remoteID string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[remoteID]
	return p, ok
}

// Remotes lists the ids with live connections.
func (m *Manager) Remotes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// Teardown closes and removes one connection and its displayed streams.
// Idempotent; also the handler for terminal state transitions, after which
// all further signaling for this remote id is ignored by state checks.
func (m *Manager) Teardown(remoteID string) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.peers, remoteID)
	delete(m.streams, remoteID)
	m.mu.Unlock()

	m.media.UnregisterSender(remoteID)
	if err := p.tr.Close(); err != nil {
		m.log.Warn("closing transport", zap.String("peer", remoteID), zap.Error(err))
	}
	if m.onClosed != nil {
		m.onClosed(remoteID)
	}
}

// CloseAll tears down every connection. Used on hang-up.
func (m *Manager) CloseAll() {
	for _, id := range m.Remotes() {
		m.Teardown(id)
	}
}
