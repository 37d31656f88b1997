package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// lifecycle decides cleanup scope on the way out of a room. The count check
// races when two last participants leave simultaneously, but both outcomes
// are idempotent deletions, so the race is harmless.
type lifecycle struct {
	s    *Session
	once sync.Once
	err  error
}

func newLifecycle(s *Session) *lifecycle {
	return &lifecycle{s: s}
}

func (l *lifecycle) leave(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.run(ctx)
	})
	return l.err
}

func (l *lifecycle) run(ctx context.Context) error {
	s := l.s

	// Local teardown happens unconditionally before any store read: media
	// and connections must not outlive the session even if the store is
	// unreachable.
	s.media.Close()
	s.peers.CloseAll()

	participants, err := s.store.Participants(ctx, s.roomID)
	if err != nil {
		// Best-effort cleanup during unload may fail; try the narrow
		// amendment anyway and let the store's TTLs catch the rest.
		s.log.Warn("reading participants during leave", zap.Error(err))
		return s.store.ClearParticipant(ctx, s.roomID, s.localID)
	}

	_, present := participants[s.localID]
	if present && len(participants) <= 1 {
		s.log.Info("last participant out, purging room", zap.String("room", s.roomID))
		return s.store.DeleteRoom(ctx, s.roomID)
	}

	s.log.Info("leaving room", zap.String("room", s.roomID))
	return s.store.ClearParticipant(ctx, s.roomID, s.localID)
}
