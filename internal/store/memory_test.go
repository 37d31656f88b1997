package store

import (
	"context"
	"testing"
	"time"

	"github.com/mossy-p/connect-now/internal/models"
)

func recvSnapshot(t *testing.T, ch <-chan models.RoomSnapshot) models.RoomSnapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return models.RoomSnapshot{}
}

func TestWatchDeliversCurrentThenUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.SetParticipant(ctx, "room-42", "a1", "alice"); err != nil {
		t.Fatalf("SetParticipant() error = %v", err)
	}

	ch, err := s.Watch(ctx, "room-42")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	snap := recvSnapshot(t, ch)
	if got := snap.Participants["a1"]; got != "alice" {
		t.Fatalf("initial snapshot participant = %q, want %q", got, "alice")
	}

	if err := s.SetParticipant(ctx, "room-42", "b1", "bob"); err != nil {
		t.Fatalf("SetParticipant() error = %v", err)
	}

	// The next delivery must contain the full updated set.
	for {
		snap = recvSnapshot(t, ch)
		if len(snap.Participants) == 2 {
			break
		}
	}
	if snap.Participants["b1"] != "bob" {
		t.Errorf("updated snapshot missing b1, got %v", snap.Participants)
	}
}

func TestConsumeOfferPublishesAnswerAndDeletesOffer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	offer := models.Description{Type: "offer", SDP: "x", From: "a1", To: "b1"}
	if err := s.PutOffer(ctx, "r", offer); err != nil {
		t.Fatalf("PutOffer() error = %v", err)
	}

	answer := models.Description{Type: "answer", SDP: "y", From: "b1", To: "a1"}
	if err := s.ConsumeOffer(ctx, "r", "a1", answer); err != nil {
		t.Fatalf("ConsumeOffer() error = %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, _ := s.Watch(cctx, "r")
	snap := recvSnapshot(t, ch)

	if _, ok := snap.Offers["a1"]; ok {
		t.Error("consumed offer still present")
	}
	if got := snap.Answers["b1"]; got.SDP != "y" {
		t.Errorf("answer = %+v, want SDP %q", got, "y")
	}
}

func TestWatchCandidatesDeliversBacklogAndLive(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := models.Candidate{Candidate: "cand-1", From: "a1", To: "b1"}
	if err := s.AddCandidate(ctx, "r", first); err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}

	ch, err := s.WatchCandidates(ctx, "r", "b1")
	if err != nil {
		t.Fatalf("WatchCandidates() error = %v", err)
	}

	got := <-ch
	if got.Candidate != "cand-1" {
		t.Fatalf("backlog candidate = %q, want %q", got.Candidate, "cand-1")
	}

	second := models.Candidate{Candidate: "cand-2", From: "a1", To: "b1"}
	if err := s.AddCandidate(ctx, "r", second); err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}

	select {
	case got = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live candidate")
	}
	if got.Candidate != "cand-2" {
		t.Errorf("live candidate = %q, want %q", got.Candidate, "cand-2")
	}
}

func TestCandidateInboxesAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.AddCandidate(ctx, "r", models.Candidate{Candidate: "for-b1", From: "a1", To: "b1"}); err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}

	ch, err := s.WatchCandidates(ctx, "r", "a1")
	if err != nil {
		t.Fatalf("WatchCandidates() error = %v", err)
	}
	select {
	case c := <-ch:
		t.Fatalf("a1 inbox received %q addressed to b1", c.Candidate)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClearParticipantLeavesOthersIntact(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetParticipant(ctx, "r", "a1", "alice")
	s.SetParticipant(ctx, "r", "b1", "bob")
	s.PutOffer(ctx, "r", models.Description{From: "a1", To: "b1"})
	s.PutOffer(ctx, "r", models.Description{From: "b1", To: "a1"})
	s.PutAnswer(ctx, "r", models.Description{From: "a1", To: "b1"})

	if err := s.ClearParticipant(ctx, "r", "a1"); err != nil {
		t.Fatalf("ClearParticipant() error = %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, _ := s.Watch(cctx, "r")
	snap := recvSnapshot(t, ch)

	if _, ok := snap.Participants["a1"]; ok {
		t.Error("a1 presence survived clear")
	}
	if _, ok := snap.Offers["a1"]; ok {
		t.Error("a1 offer survived clear")
	}
	if _, ok := snap.Answers["a1"]; ok {
		t.Error("a1 answer survived clear")
	}
	if snap.Participants["b1"] != "bob" {
		t.Error("b1 presence was touched by a1's clear")
	}
	if _, ok := snap.Offers["b1"]; !ok {
		t.Error("b1 offer was touched by a1's clear")
	}
}

func TestDeleteRoomRemovesEverything(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetParticipant(ctx, "r", "a1", "alice")
	s.PutOffer(ctx, "r", models.Description{From: "a1", To: "b1"})
	s.AddCandidate(ctx, "r", models.Candidate{Candidate: "c", From: "a1", To: "b1"})
	s.AppendMessage(ctx, "r", models.ChatMessage{From: "a1", Text: "hi"})

	if err := s.DeleteRoom(ctx, "r"); err != nil {
		t.Fatalf("DeleteRoom() error = %v", err)
	}

	parts, err := s.Participants(ctx, "r")
	if err != nil {
		t.Fatalf("Participants() error = %v", err)
	}
	if len(parts) != 0 {
		t.Errorf("participants after delete = %v, want none", parts)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, _ := s.WatchMessages(cctx, "r")
	select {
	case m := <-msgs:
		t.Errorf("chat survived room delete: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAppendMessageAssignsTimestampAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := s.AppendMessage(ctx, "r", models.ChatMessage{From: "a1", Name: "alice", Text: "one"})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Fatalf("message missing store-assigned id/timestamp: %+v", first)
	}
	if _, err := s.AppendMessage(ctx, "r", models.ChatMessage{From: "b1", Name: "bob", Text: "two"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	ch, err := s.WatchMessages(ctx, "r")
	if err != nil {
		t.Fatalf("WatchMessages() error = %v", err)
	}
	got1, got2 := <-ch, <-ch
	if got1.Text != "one" || got2.Text != "two" {
		t.Errorf("messages out of order: %q then %q", got1.Text, got2.Text)
	}
	if got2.Timestamp.Before(first.Timestamp) {
		t.Error("second timestamp precedes first")
	}
}

func TestMetadataResolvesByCodeAndID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	meta := models.RoomMetadata{ID: "room-42", Code: "ABCD23", CreatorID: "u1", MaxParticipants: 8}
	if err := s.PutMetadata(ctx, meta); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}
	s.SetParticipant(ctx, "room-42", "a1", "alice")

	byCode, err := s.GetMetadata(ctx, "ABCD23")
	if err != nil {
		t.Fatalf("GetMetadata(code) error = %v", err)
	}
	if byCode.ID != "room-42" {
		t.Errorf("resolved id = %q, want %q", byCode.ID, "room-42")
	}
	if byCode.ParticipantCount != 1 {
		t.Errorf("participant count = %d, want 1", byCode.ParticipantCount)
	}

	if _, err := s.GetMetadata(ctx, "missing"); err != ErrRoomNotFound {
		t.Errorf("GetMetadata(missing) error = %v, want ErrRoomNotFound", err)
	}

	if err := s.DeleteMetadata(ctx, meta); err != nil {
		t.Fatalf("DeleteMetadata() error = %v", err)
	}
	if _, err := s.GetMetadata(ctx, "room-42"); err != ErrRoomNotFound {
		t.Errorf("metadata survived delete, err = %v", err)
	}
}
