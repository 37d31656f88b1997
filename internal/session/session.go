// Package session orchestrates one participant's life in a room: presence,
// the signaling exchange, chat, and teardown. Everything reacts to events
// (user actions, media events, store change notifications), with the
// exchange's state checks as the only guard against interleaving.
package session

import (
	"context"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/internal/media"
	"github.com/mossy-p/connect-now/internal/models"
	"github.com/mossy-p/connect-now/internal/peer"
	"github.com/mossy-p/connect-now/internal/store"
)

// Session is one participant's connection to one room.
type Session struct {
	log       *zap.Logger
	store     store.RoomStore
	media     *media.Manager
	peers     *peer.Manager
	presence  *Presence
	exchange  *Exchange
	lifecycle *lifecycle

	roomID    string
	localID   string
	localName string

	onStream func(peer.RemoteStream)
	onGone   func(remoteID string)
}

// New assembles a session. localID must be unique per tab-session; callers
// generate it with uuid.NewString.
func New(st store.RoomStore, mediaMgr *media.Manager, factory peer.Factory, roomID, localID, localName string, log *zap.Logger) *Session {
	peers := peer.NewManager(factory, mediaMgr, log.Named("peer"))
	presence := NewPresence(localID)
	s := &Session{
		log:       log,
		store:     st,
		media:     mediaMgr,
		peers:     peers,
		presence:  presence,
		exchange:  NewExchange(st, peers, presence, roomID, localID, log.Named("signal")),
		roomID:    roomID,
		localID:   localID,
		localName: localName,
	}
	s.lifecycle = newLifecycle(s)
	return s
}

// OnRemoteStream registers the observer for inbound streams (display name
// and screen classification included). Must be set before Join.
func (s *Session) OnRemoteStream(f func(peer.RemoteStream)) { s.onStream = f }

// OnPeerGone registers the observer for torn-down peers, whose tiles should
// silently disappear. Must be set before Join.
func (s *Session) OnPeerGone(f func(remoteID string)) { s.onGone = f }

// Media exposes the local media controls (mute, camera, screen share).
func (s *Session) Media() *media.Manager { return s.media }

// ID returns the local participant id.
func (s *Session) ID() string { return s.localID }

// Join acquires media (degrading to chat-only on denial), announces
// presence, and starts the signaling loops. It returns once the session is
// live; the loops run until ctx is cancelled. Callers must invoke Leave to
// clean up room state; cancelling ctx alone only stops the loops.
func (s *Session) Join(ctx context.Context) error {
	if err := s.media.Acquire(); err != nil {
		// Degraded mode: chat and inbound media still work.
		s.log.Warn("joining without outgoing media", zap.Error(err))
	}

	s.peers.OnRemoteStream(func(rs peer.RemoteStream) {
		if s.onStream != nil {
			s.onStream(rs)
		}
	})
	s.peers.OnClosed(func(remoteID string) {
		if s.onGone != nil {
			s.onGone(remoteID)
		}
	})
	s.peers.OnLocalCandidate(func(remoteID string, c webrtc.ICECandidateInit) {
		cand := models.Candidate{
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
			From:          s.localID,
			To:            remoteID,
		}
		if err := s.store.AddCandidate(ctx, s.roomID, cand); err != nil {
			s.log.Warn("publish candidate", zap.String("peer", remoteID), zap.Error(err))
		}
	})

	if err := s.store.SetParticipant(ctx, s.roomID, s.localID, s.localName); err != nil {
		return err
	}

	snapshots, err := s.store.Watch(ctx, s.roomID)
	if err != nil {
		return err
	}
	candidates, err := s.store.WatchCandidates(ctx, s.roomID, s.localID)
	if err != nil {
		return err
	}

	go s.run(ctx, snapshots, candidates)

	s.log.Info("joined room",
		zap.String("room", s.roomID),
		zap.String("participant", s.localID),
		zap.Bool("degraded", s.media.Degraded()))
	return nil
}

// run is the session's event loop. Snapshot and candidate events interleave
// arbitrarily; the exchange's state checks keep every step idempotent.
func (s *Session) run(ctx context.Context, snapshots <-chan models.RoomSnapshot, candidates <-chan models.Candidate) {
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			s.exchange.HandleSnapshot(ctx, snap)
		case cand, ok := <-candidates:
			if !ok {
				return
			}
			s.exchange.HandleCandidate(cand)
		case <-ctx.Done():
			return
		}
	}
}

// Leave hangs up: local media and connections go down unconditionally, then
// room state is amended or purged depending on whether we were the last
// participant. Safe to call more than once; the unload path and explicit
// hang-up share it.
func (s *Session) Leave(ctx context.Context) error {
	return s.lifecycle.leave(ctx)
}
