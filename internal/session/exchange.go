package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/internal/models"
	"github.com/mossy-p/connect-now/internal/peer"
	"github.com/mossy-p/connect-now/internal/store"
)

// maxOrphanCandidates bounds the per-sender buffer for candidates that
// arrive before their connection exists.
const maxOrphanCandidates = 64

// Exchange is the offer/answer/candidate state machine running over store
// change notifications. The store redelivers events and participant views can
// be observed inconsistently, so every step checks the connection's current
// negotiation state before acting; that check is the only thing standing
// between at-least-once delivery and double negotiation.
type Exchange struct {
	log      *zap.Logger
	store    store.RoomStore
	peers    *peer.Manager
	presence *Presence
	roomID   string
	localID  string

	mu          sync.Mutex
	unreachable map[string]struct{}
	orphans     map[string][]models.Candidate
}

// NewExchange wires the state machine to its collaborators.
func NewExchange(st store.RoomStore, peers *peer.Manager, presence *Presence, roomID, localID string, log *zap.Logger) *Exchange {
	return &Exchange{
		log:         log,
		store:       st,
		peers:       peers,
		presence:    presence,
		roomID:      roomID,
		localID:     localID,
		unreachable: make(map[string]struct{}),
		orphans:     make(map[string][]models.Candidate),
	}
}

// Initiator decides which side of a pair offers. The participant whose id
// compares lexicographically lesser initiates; both sides compute this
// independently and symmetrically, so exactly one offers.
func (e *Exchange) Initiator(remoteID string) bool {
	return e.localID < remoteID
}

// HandleSnapshot runs one full reconciliation pass against the room's
// current value: departed peers are torn down, missing connections are
// initiated, and offers/answers addressed to us are consumed.
func (e *Exchange) HandleSnapshot(ctx context.Context, snap models.RoomSnapshot) {
	_, removed := e.presence.Update(snap)
	for _, id := range removed {
		e.log.Info("participant left", zap.String("peer", id))
		e.peers.Teardown(id)
		e.forget(id)
	}

	e.initiateMissing(ctx)
	e.consumeOffers(ctx, snap)
	e.consumeAnswers(ctx, snap)
}

// initiateMissing creates a connection and publishes an offer for every
// remote we should be calling and are not yet connected to.
func (e *Exchange) initiateMissing(ctx context.Context) {
	for remoteID, name := range e.presence.Remotes() {
		if !e.Initiator(remoteID) || e.isUnreachable(remoteID) {
			continue
		}
		if _, ok := e.peers.Get(remoteID); ok {
			continue
		}
		p, err := e.peers.Ensure(remoteID, name)
		if err != nil {
			e.log.Warn("transport construction failed", zap.String("peer", remoteID), zap.Error(err))
			e.markUnreachable(remoteID)
			continue
		}
		offer, err := p.CreateOffer(e.localID)
		if err != nil {
			e.fail(remoteID, "create offer", err)
			continue
		}
		if err := e.store.PutOffer(ctx, e.roomID, offer); err != nil {
			e.fail(remoteID, "publish offer", err)
			continue
		}
		e.log.Info("offer published", zap.String("peer", remoteID))
		e.flushOrphans(remoteID, p)
	}
}

// consumeOffers answers every offer addressed to us whose connection still
// accepts a remote offer, deleting the offer in the same store operation that
// publishes the answer.
func (e *Exchange) consumeOffers(ctx context.Context, snap models.RoomSnapshot) {
	for from, offer := range snap.Offers {
		if offer.To != e.localID || e.isUnreachable(from) {
			continue
		}
		p, err := e.peers.Ensure(from, e.presence.Name(from))
		if err != nil {
			e.log.Warn("transport construction failed", zap.String("peer", from), zap.Error(err))
			e.markUnreachable(from)
			continue
		}
		answer, applied, err := p.AcceptOffer(e.localID, offer)
		if err != nil {
			e.fail(from, "apply offer", err)
			// Drop the record so the bad description is not reprocessed.
			if derr := e.store.DeleteOffer(ctx, e.roomID, from); derr != nil {
				e.log.Warn("delete failed offer", zap.String("peer", from), zap.Error(derr))
			}
			continue
		}
		if !applied {
			// Duplicate delivery; the handshake already moved past this.
			continue
		}
		if err := e.store.ConsumeOffer(ctx, e.roomID, from, answer); err != nil {
			e.fail(from, "publish answer", err)
			continue
		}
		e.log.Info("answer published", zap.String("peer", from))
		e.flushOrphans(from, p)
	}
}

// consumeAnswers applies every answer addressed to us that matches a
// connection waiting in offer-sent, then deletes the consumed record.
func (e *Exchange) consumeAnswers(ctx context.Context, snap models.RoomSnapshot) {
	for from, answer := range snap.Answers {
		if answer.To != e.localID {
			continue
		}
		p, ok := e.peers.Get(from)
		if !ok {
			continue
		}
		applied, err := p.AcceptAnswer(answer)
		if err != nil {
			e.fail(from, "apply answer", err)
			continue
		}
		if applied {
			if err := e.store.DeleteAnswer(ctx, e.roomID, from); err != nil {
				e.log.Warn("delete consumed answer", zap.String("peer", from), zap.Error(err))
			}
			e.log.Info("answer applied", zap.String("peer", from))
		}
	}
}

// HandleCandidate routes one inbox entry to its connection, holding it if the
// connection does not exist yet. Connection-level buffering (pre-remote-
// description) happens inside the Peer.
func (e *Exchange) HandleCandidate(c models.Candidate) {
	if c.To != e.localID {
		return
	}
	p, ok := e.peers.Get(c.From)
	if !ok {
		e.mu.Lock()
		if len(e.orphans[c.From]) < maxOrphanCandidates {
			e.orphans[c.From] = append(e.orphans[c.From], c)
		}
		e.mu.Unlock()
		return
	}
	if err := p.AddCandidate(c); err != nil {
		e.log.Warn("add candidate", zap.String("peer", c.From), zap.Error(err))
	}
}

func (e *Exchange) flushOrphans(remoteID string, p *peer.Peer) {
	e.mu.Lock()
	held := e.orphans[remoteID]
	delete(e.orphans, remoteID)
	e.mu.Unlock()
	for _, c := range held {
		if err := p.AddCandidate(c); err != nil {
			e.log.Warn("add held candidate", zap.String("peer", remoteID), zap.Error(err))
		}
	}
}

// fail tears down one pair and stops signaling it for the rest of the
// session. Other peers are unaffected.
func (e *Exchange) fail(remoteID, op string, err error) {
	e.log.Warn("signaling failed, dropping peer",
		zap.String("peer", remoteID),
		zap.String("op", op),
		zap.Error(err))
	e.peers.Teardown(remoteID)
	e.markUnreachable(remoteID)
}

func (e *Exchange) markUnreachable(remoteID string) {
	e.mu.Lock()
	e.unreachable[remoteID] = struct{}{}
	e.mu.Unlock()
}

func (e *Exchange) isUnreachable(remoteID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.unreachable[remoteID]
	return ok
}

// forget clears per-peer bookkeeping when a participant leaves, so a rejoin
// under the same id starts clean.
func (e *Exchange) forget(remoteID string) {
	e.mu.Lock()
	delete(e.unreachable, remoteID)
	delete(e.orphans, remoteID)
	e.mu.Unlock()
}
