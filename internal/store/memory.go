package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/connect-now/internal/models"
)

// memoryRoom is the in-process shape of one room document.
type memoryRoom struct {
	participants map[string]string
	offers       map[string]models.Description
	answers      map[string]models.Description
	candidates   map[string][]models.Candidate // recipient id -> inbox
	messages     []models.ChatMessage
	version      uint64
}

// MemoryStore is an in-process RoomStore with the same observable semantics
// as the Redis store. It backs tests and single-machine demos.
type MemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]*memoryRoom
	meta    map[string]models.RoomMetadata // keyed by id
	codes   map[string]string              // code -> id
	nextSeq uint64
	// notify channels have capacity one; a full channel already means "state
	// changed, re-read", so further signals coalesce.
	watchers map[string]map[int]chan struct{}
	nextW    int
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*memoryRoom),
		meta:     make(map[string]models.RoomMetadata),
		codes:    make(map[string]string),
		watchers: make(map[string]map[int]chan struct{}),
	}
}

func (s *MemoryStore) room(roomID string) *memoryRoom {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &memoryRoom{
			participants: make(map[string]string),
			offers:       make(map[string]models.Description),
			answers:      make(map[string]models.Description),
			candidates:   make(map[string][]models.Candidate),
		}
		s.rooms[roomID] = r
	}
	return r
}

// notifyLocked signals every watcher of roomID. Callers hold s.mu.
func (s *MemoryStore) notifyLocked(roomID string) {
	for _, ch := range s.watchers[roomID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *MemoryStore) subscribe(roomID string) (int, chan struct{}) {
	ch := make(chan struct{}, 1)
	if s.watchers[roomID] == nil {
		s.watchers[roomID] = make(map[int]chan struct{})
	}
	s.nextW++
	id := s.nextW
	s.watchers[roomID][id] = ch
	return id, ch
}

func (s *MemoryStore) unsubscribe(roomID string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[roomID], id)
}

func (s *MemoryStore) SetParticipant(ctx context.Context, roomID, participantID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.participants[participantID] = name
	r.version++
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) PutOffer(ctx context.Context, roomID string, desc models.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.offers[desc.From] = desc
	r.version++
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) DeleteOffer(ctx context.Context, roomID, from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		delete(r.offers, from)
		r.version++
		s.notifyLocked(roomID)
	}
	return nil
}

func (s *MemoryStore) PutAnswer(ctx context.Context, roomID string, desc models.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.answers[desc.From] = desc
	r.version++
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) DeleteAnswer(ctx context.Context, roomID, from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		delete(r.answers, from)
		r.version++
		s.notifyLocked(roomID)
	}
	return nil
}

func (s *MemoryStore) ConsumeOffer(ctx context.Context, roomID, offerFrom string, answer models.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.answers[answer.From] = answer
	delete(r.offers, offerFrom)
	r.version++
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) ClearParticipant(ctx context.Context, roomID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	delete(r.participants, participantID)
	delete(r.offers, participantID)
	delete(r.answers, participantID)
	delete(r.candidates, participantID)
	r.version++
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) Participants(ctx context.Context, roomID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	if r, ok := s.rooms[roomID]; ok {
		for id, name := range r.participants {
			out[id] = name
		}
	}
	return out, nil
}

func (s *MemoryStore) snapshotLocked(roomID string) models.RoomSnapshot {
	snap := models.RoomSnapshot{
		Participants: make(map[string]string),
		Offers:       make(map[string]models.Description),
		Answers:      make(map[string]models.Description),
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return snap
	}
	for id, name := range r.participants {
		snap.Participants[id] = name
	}
	for id, d := range r.offers {
		snap.Offers[id] = d
	}
	for id, d := range r.answers {
		snap.Answers[id] = d
	}
	return snap
}

func (s *MemoryStore) Watch(ctx context.Context, roomID string) (<-chan models.RoomSnapshot, error) {
	s.mu.Lock()
	id, notify := s.subscribe(roomID)
	s.mu.Unlock()

	out := make(chan models.RoomSnapshot, 1)
	go func() {
		defer close(out)
		defer s.unsubscribe(roomID, id)
		for {
			s.mu.Lock()
			snap := s.snapshotLocked(roomID)
			s.mu.Unlock()
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) AddCandidate(ctx context.Context, roomID string, cand models.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.candidates[cand.To] = append(r.candidates[cand.To], cand)
	s.notifyLocked(roomID)
	return nil
}

func (s *MemoryStore) WatchCandidates(ctx context.Context, roomID, participantID string) (<-chan models.Candidate, error) {
	s.mu.Lock()
	id, notify := s.subscribe(roomID)
	s.mu.Unlock()

	out := make(chan models.Candidate)
	go func() {
		defer close(out)
		defer s.unsubscribe(roomID, id)
		cursor := 0
		for {
			s.mu.Lock()
			var pending []models.Candidate
			if r, ok := s.rooms[roomID]; ok {
				inbox := r.candidates[participantID]
				if cursor < len(inbox) {
					pending = append(pending, inbox[cursor:]...)
					cursor = len(inbox)
				}
			}
			s.mu.Unlock()
			for _, c := range pending {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, roomID string, msg models.ChatMessage) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	s.nextSeq++
	msg.ID = fmt.Sprintf("%d", s.nextSeq)
	msg.Timestamp = time.Now()
	r.messages = append(r.messages, msg)
	s.notifyLocked(roomID)
	return msg, nil
}

func (s *MemoryStore) WatchMessages(ctx context.Context, roomID string) (<-chan models.ChatMessage, error) {
	s.mu.Lock()
	id, notify := s.subscribe(roomID)
	s.mu.Unlock()

	out := make(chan models.ChatMessage)
	go func() {
		defer close(out)
		defer s.unsubscribe(roomID, id)
		cursor := 0
		for {
			s.mu.Lock()
			var pending []models.ChatMessage
			if r, ok := s.rooms[roomID]; ok {
				if cursor < len(r.messages) {
					pending = append(pending, r.messages[cursor:]...)
					cursor = len(r.messages)
				}
			}
			s.mu.Unlock()
			for _, m := range pending {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) PutMetadata(ctx context.Context, meta models.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.ID] = meta
	s.codes[meta.Code] = meta.ID
	return nil
}

func (s *MemoryStore) GetMetadata(ctx context.Context, identifier string) (models.RoomMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := identifier
	if mapped, ok := s.codes[identifier]; ok {
		id = mapped
	}
	meta, ok := s.meta[id]
	if !ok {
		return models.RoomMetadata{}, ErrRoomNotFound
	}
	if r, ok := s.rooms[id]; ok {
		meta.ParticipantCount = len(r.participants)
	}
	return meta, nil
}

func (s *MemoryStore) DeleteMetadata(ctx context.Context, meta models.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, meta.ID)
	delete(s.codes, meta.Code)
	return nil
}
