package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/internal/media"
	"github.com/mossy-p/connect-now/internal/models"
	"github.com/mossy-p/connect-now/internal/peer"
	"github.com/mossy-p/connect-now/internal/store"
)

type fakeTransport struct {
	mu         sync.Mutex
	offers     int
	answers    int
	remoteSets int
	candidates []webrtc.ICECandidateInit
	closed     bool
	failRemote bool

	onState func(peer.State)
}

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) error          { return nil }
func (f *fakeTransport) ReplaceAudioTrack(webrtc.TrackLocal) error { return nil }
func (f *fakeTransport) ReplaceVideoTrack(webrtc.TrackLocal) error { return nil }

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemote {
		return errors.New("malformed description")
	}
	f.remoteSets++
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeTransport) OnTrack(func(peer.RemoteTrack))              {}
func (f *fakeTransport) OnStateChange(fn func(peer.State))           { f.onState = fn }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakeFactory struct {
	mu         sync.Mutex
	failRemote bool
	built      []*fakeTransport
}

func (f *fakeFactory) New() (peer.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := &fakeTransport{failRemote: f.failRemote}
	f.built = append(f.built, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

// participant bundles one side of the protocol for tests that drive the
// exchange by hand instead of through the session event loop.
type participant struct {
	id       string
	exchange *Exchange
	peers    *peer.Manager
	factory  *fakeFactory
}

func newParticipant(st store.RoomStore, roomID, id string) *participant {
	factory := &fakeFactory{}
	mediaMgr := media.NewManager(nil, id, zap.NewNop())
	peers := peer.NewManager(factory.New, mediaMgr, zap.NewNop())
	presence := NewPresence(id)
	return &participant{
		id:       id,
		exchange: NewExchange(st, peers, presence, roomID, id, zap.NewNop()),
		peers:    peers,
		factory:  factory,
	}
}

func currentSnapshot(t *testing.T, st store.RoomStore, roomID string) models.RoomSnapshot {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := st.Watch(ctx, roomID)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	select {
	case snap := <-ch:
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out reading snapshot")
	}
	return models.RoomSnapshot{}
}

func TestInitiatorElectionSymmetric(t *testing.T) {
	st := store.NewMemoryStore()
	alice := newParticipant(st, "r", "a1")
	bob := newParticipant(st, "r", "b1")

	if !alice.exchange.Initiator("b1") {
		t.Error("a1 should initiate toward b1")
	}
	if bob.exchange.Initiator("a1") {
		t.Error("b1 should wait for a1's offer")
	}
}

func TestOfferAnswerHandshake(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	alice := newParticipant(st, "room-42", "a1")
	bob := newParticipant(st, "room-42", "b1")

	st.SetParticipant(ctx, "room-42", "a1", "alice")
	st.SetParticipant(ctx, "room-42", "b1", "bob")

	// Alice sees bob and, as the lesser id, publishes an offer.
	alice.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "room-42"))
	p, ok := alice.peers.Get("b1")
	if !ok {
		t.Fatal("alice has no connection to b1")
	}
	if got := p.Negotiation(); got != peer.NegotiationOfferSent {
		t.Fatalf("alice negotiation = %v, want offer-sent", got)
	}
	snap := currentSnapshot(t, st, "room-42")
	if got, ok := snap.Offers["a1"]; !ok || got.To != "b1" {
		t.Fatalf("published offer = %+v, want a1->b1", got)
	}

	// Bob sees the same membership and must not dial out.
	bob.exchange.HandleSnapshot(ctx, snap)
	bp, ok := bob.peers.Get("a1")
	if !ok {
		t.Fatal("bob has no connection to a1")
	}
	if got := bp.Negotiation(); got != peer.NegotiationAnswerSent {
		t.Fatalf("bob negotiation = %v, want answer-sent", got)
	}
	snap = currentSnapshot(t, st, "room-42")
	if len(snap.Offers) != 0 {
		t.Errorf("consumed offer still in store: %v", snap.Offers)
	}
	if got, ok := snap.Answers["b1"]; !ok || got.To != "a1" {
		t.Fatalf("published answer = %+v, want b1->a1", got)
	}

	// Alice applies the answer and deletes the consumed record.
	alice.exchange.HandleSnapshot(ctx, snap)
	if got := p.Negotiation(); got != peer.NegotiationAnswerReceived {
		t.Fatalf("alice negotiation = %v, want answer-received", got)
	}
	snap = currentSnapshot(t, st, "room-42")
	if len(snap.Answers) != 0 {
		t.Errorf("consumed answer still in store: %v", snap.Answers)
	}

	if alice.factory.count() != 1 || bob.factory.count() != 1 {
		t.Errorf("transports built = %d/%d, want 1/1", alice.factory.count(), bob.factory.count())
	}
	if bob.factory.built[0].offers != 0 {
		t.Error("bob created an offer despite not being the initiator")
	}
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	alice := newParticipant(st, "r", "a1")
	bob := newParticipant(st, "r", "b1")

	st.SetParticipant(ctx, "r", "a1", "alice")
	st.SetParticipant(ctx, "r", "b1", "bob")

	membership := currentSnapshot(t, st, "r")
	alice.exchange.HandleSnapshot(ctx, membership)
	withOffer := currentSnapshot(t, st, "r")
	bob.exchange.HandleSnapshot(ctx, withOffer)
	withAnswer := currentSnapshot(t, st, "r")
	alice.exchange.HandleSnapshot(ctx, withAnswer)

	// The store redelivers stale views; every step must be a no-op now.
	alice.exchange.HandleSnapshot(ctx, membership)
	alice.exchange.HandleSnapshot(ctx, withAnswer)
	bob.exchange.HandleSnapshot(ctx, withOffer)
	bob.exchange.HandleSnapshot(ctx, withOffer)

	if got := alice.factory.count(); got != 1 {
		t.Errorf("alice built %d transports, want 1", got)
	}
	if got := bob.factory.count(); got != 1 {
		t.Errorf("bob built %d transports, want 1", got)
	}
	if got := bob.factory.built[0].remoteSets; got != 1 {
		t.Errorf("bob applied %d remote descriptions, want 1", got)
	}
	if got := alice.factory.built[0].remoteSets; got != 1 {
		t.Errorf("alice applied %d remote descriptions, want 1", got)
	}
}

func TestOfferForSomeoneElseIgnored(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bob := newParticipant(st, "r", "b1")

	st.SetParticipant(ctx, "r", "a1", "alice")
	st.SetParticipant(ctx, "r", "b1", "bob")
	st.SetParticipant(ctx, "r", "c1", "carol")
	st.PutOffer(ctx, "r", models.Description{Type: "offer", SDP: "x", From: "a1", To: "c1"})

	bob.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))

	if _, ok := bob.peers.Get("a1"); ok {
		t.Error("bob answered an offer addressed to c1")
	}
	snap := currentSnapshot(t, st, "r")
	if _, ok := snap.Offers["a1"]; !ok {
		t.Error("bob deleted an offer addressed to c1")
	}
}

func TestEarlyCandidateHeldUntilConnectionExists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bob := newParticipant(st, "r", "b1")

	// Candidate beats both the membership snapshot and the offer.
	bob.exchange.HandleCandidate(models.Candidate{Candidate: "early", From: "a1", To: "b1"})
	if _, ok := bob.peers.Get("a1"); ok {
		t.Fatal("candidate alone created a connection")
	}

	st.SetParticipant(ctx, "r", "a1", "alice")
	st.SetParticipant(ctx, "r", "b1", "bob")
	st.PutOffer(ctx, "r", models.Description{Type: "offer", SDP: "v=0 offer", From: "a1", To: "b1"})
	bob.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))

	// The held candidate flushed once the offer established the connection
	// and its remote description.
	if got := bob.factory.built[0].candidateCount(); got != 1 {
		t.Fatalf("transport saw %d candidates, want the held one", got)
	}
	if got := bob.factory.built[0].candidates[0].Candidate; got != "early" {
		t.Errorf("flushed candidate = %q, want %q", got, "early")
	}
}

func TestCandidateForOtherRecipientIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	bob := newParticipant(st, "r", "b1")

	bob.exchange.HandleCandidate(models.Candidate{Candidate: "x", From: "a1", To: "c1"})
	if _, ok := bob.peers.Get("a1"); ok {
		t.Error("misaddressed candidate created state")
	}
}

func TestApplyFailureDropsPeerForSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bob := newParticipant(st, "r", "b1")
	bob.factory.failRemote = true

	st.SetParticipant(ctx, "r", "a1", "alice")
	st.SetParticipant(ctx, "r", "b1", "bob")
	st.PutOffer(ctx, "r", models.Description{Type: "offer", SDP: "broken", From: "a1", To: "b1"})

	bob.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))

	if _, ok := bob.peers.Get("a1"); ok {
		t.Error("connection survived a failed offer application")
	}
	snap := currentSnapshot(t, st, "r")
	if _, ok := snap.Offers["a1"]; ok {
		t.Error("failed offer left in store for reprocessing")
	}
	if !bob.factory.built[0].closed {
		t.Error("transport not closed after failure")
	}

	// The pair stays unreachable for the rest of the session.
	st.PutOffer(ctx, "r", models.Description{Type: "offer", SDP: "broken", From: "a1", To: "b1"})
	bob.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))
	if got := bob.factory.count(); got != 1 {
		t.Errorf("unreachable peer got %d transports, want 1", got)
	}
}

func TestDepartedPeerTornDownAndForgotten(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	alice := newParticipant(st, "r", "a1")

	st.SetParticipant(ctx, "r", "a1", "alice")
	st.SetParticipant(ctx, "r", "b1", "bob")
	alice.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))
	if _, ok := alice.peers.Get("b1"); !ok {
		t.Fatal("alice has no connection to b1")
	}

	st.ClearParticipant(ctx, "r", "b1")
	alice.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))
	if _, ok := alice.peers.Get("b1"); ok {
		t.Error("connection survived b1's departure")
	}
	if !alice.factory.built[0].closed {
		t.Error("transport not closed on departure")
	}

	// A rejoin under the same id starts a fresh handshake.
	st.SetParticipant(ctx, "r", "b1", "bob")
	alice.exchange.HandleSnapshot(ctx, currentSnapshot(t, st, "r"))
	if got := alice.factory.count(); got != 2 {
		t.Errorf("rejoin built %d transports total, want 2", got)
	}
	p, ok := alice.peers.Get("b1")
	if !ok || p.Negotiation() != peer.NegotiationOfferSent {
		t.Error("rejoin did not restart the handshake")
	}
}
