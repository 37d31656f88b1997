package models

import "time"

// ChatMessage is one entry in a room's append-only chat log. The timestamp is
// assigned by the store when the message is appended, never by the sender.
type ChatMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomEventType classifies events on the observer feed
type RoomEventType string

const (
	RoomEventJoin    RoomEventType = "join"
	RoomEventLeave   RoomEventType = "leave"
	RoomEventMessage RoomEventType = "message"
)

// RoomEvent is pushed to observer-feed subscribers whenever a room's
// participant set changes or a chat message is appended.
type RoomEvent struct {
	Type        RoomEventType `json:"type"`
	RoomID      string        `json:"roomId"`
	Participant string        `json:"participant,omitempty"`
	Name        string        `json:"name,omitempty"`
	Message     *ChatMessage  `json:"message,omitempty"`
}
