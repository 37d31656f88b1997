// Package store provides the shared real-time document store the mesh
// signals through. A room is a document with a live participant map and
// transient offer/answer slots, plus per-participant candidate inboxes and an
// append-only chat log as sub-collections.
//
// The contract is deliberately narrow: per-field writes with field-level
// last-writer-wins, live snapshots on every change, at-least-once delivery on
// sub-collection watches, and store-assigned chat timestamps. Nothing here
// depends on a transactional guarantee, and all consumers must tolerate
// redelivered notifications.
package store

import (
	"context"
	"errors"

	"github.com/mossy-p/connect-now/internal/models"
)

var (
	// ErrRoomNotFound is returned by metadata lookups for unknown rooms.
	ErrRoomNotFound = errors.New("store: room not found")
)

// RoomStore is the signaling relay. Watch channels are closed when the
// context is cancelled. Snapshot delivery may coalesce bursts of writes but
// for a given room arrives in write order for a given watcher; candidate and
// message delivery is at-least-once in append order.
type RoomStore interface {
	// SetParticipant writes one participant's presence field, creating the
	// room implicitly on first join.
	SetParticipant(ctx context.Context, roomID, participantID, name string) error

	PutOffer(ctx context.Context, roomID string, desc models.Description) error
	DeleteOffer(ctx context.Context, roomID, from string) error
	PutAnswer(ctx context.Context, roomID string, desc models.Description) error
	DeleteAnswer(ctx context.Context, roomID, from string) error

	// ConsumeOffer publishes the responder's answer and deletes the consumed
	// offer in the same operation, so a redelivered snapshot cannot replay it.
	ConsumeOffer(ctx context.Context, roomID, offerFrom string, answer models.Description) error

	// ClearParticipant removes one participant's presence, offer, and answer
	// fields, leaving everything else in the room untouched.
	ClearParticipant(ctx context.Context, roomID, participantID string) error

	// DeleteRoom bulk-deletes the room document with all signaling
	// sub-records, candidate inboxes, and chat history.
	DeleteRoom(ctx context.Context, roomID string) error

	// Participants reads the current presence map.
	Participants(ctx context.Context, roomID string) (map[string]string, error)

	// Watch delivers a full snapshot of the room document after every write
	// from any client, starting with the current value.
	Watch(ctx context.Context, roomID string) (<-chan models.RoomSnapshot, error)

	// AddCandidate appends a candidate to the recipient's inbox.
	AddCandidate(ctx context.Context, roomID string, cand models.Candidate) error

	// WatchCandidates streams the inbox owned by participantID, including
	// entries that were appended before the watch started.
	WatchCandidates(ctx context.Context, roomID, participantID string) (<-chan models.Candidate, error)

	// AppendMessage appends a chat message and returns it with the
	// store-assigned id and timestamp filled in.
	AppendMessage(ctx context.Context, roomID string, msg models.ChatMessage) (models.ChatMessage, error)

	// WatchMessages streams chat in timestamp order from the beginning of the
	// room's history.
	WatchMessages(ctx context.Context, roomID string) (<-chan models.ChatMessage, error)
}

// MetadataStore backs the room management API: short shareable codes mapped
// to room ids plus creator bookkeeping. Kept separate from RoomStore because
// the orchestrator core never touches metadata.
type MetadataStore interface {
	PutMetadata(ctx context.Context, meta models.RoomMetadata) error
	// GetMetadata resolves identifier as a room code first, then as an id.
	GetMetadata(ctx context.Context, identifier string) (models.RoomMetadata, error)
	DeleteMetadata(ctx context.Context, meta models.RoomMetadata) error
}
