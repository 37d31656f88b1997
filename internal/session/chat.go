package session

import (
	"context"
	"strings"

	"github.com/mossy-p/connect-now/internal/models"
)

// SendMessage appends a chat message to the room's log. The store assigns
// the timestamp; empty messages are dropped.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := s.store.AppendMessage(ctx, s.roomID, models.ChatMessage{
		From: s.localID,
		Name: s.localName,
		Text: text,
	})
	return err
}

// Messages streams the room's chat in timestamp order, history included.
func (s *Session) Messages(ctx context.Context) (<-chan models.ChatMessage, error) {
	return s.store.WatchMessages(ctx, s.roomID)
}
