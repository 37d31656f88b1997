package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/connect-now/internal/models"
)

// Negotiation tracks where one connection is in the offer/answer handshake.
// Every signaling step checks it before acting; redelivered store events and
// inconsistent participant views make duplicate delivery the normal case.
type Negotiation int

const (
	NegotiationIdle Negotiation = iota
	NegotiationOfferSent
	NegotiationOfferReceived
	NegotiationAnswerSent
	NegotiationAnswerReceived
	NegotiationEstablished
)

func (n Negotiation) String() string {
	switch n {
	case NegotiationIdle:
		return "idle"
	case NegotiationOfferSent:
		return "offer-sent"
	case NegotiationOfferReceived:
		return "offer-received"
	case NegotiationAnswerSent:
		return "answer-sent"
	case NegotiationAnswerReceived:
		return "answer-received"
	case NegotiationEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Peer is one connection to one remote participant.
type Peer struct {
	RemoteID string
	Name     string

	tr Transport

	mu          sync.Mutex
	negotiation Negotiation
	remoteSet   bool
	pending     []models.Candidate // buffered until the remote description lands
}

func newPeer(remoteID, name string, tr Transport) *Peer {
	return &Peer{RemoteID: remoteID, Name: name, tr: tr}
}

// Negotiation returns the current handshake phase.
func (p *Peer) Negotiation() Negotiation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.negotiation
}

// CreateOffer generates and locally commits an offer. Only valid from idle;
// a duplicate call is suppressed rather than renegotiating.
func (p *Peer) CreateOffer(localID string) (models.Description, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.negotiation != NegotiationIdle {
		return models.Description{}, fmt.Errorf("offer already in flight (state %s)", p.negotiation)
	}
	sd, err := p.tr.CreateOffer()
	if err != nil {
		return models.Description{}, err
	}
	p.negotiation = NegotiationOfferSent
	return models.Description{
		Type: sd.Type.String(),
		SDP:  sd.SDP,
		From: localID,
		To:   p.RemoteID,
	}, nil
}

// AcceptOffer applies a remote offer and produces the local answer. Offers
// arriving in any state past idle are duplicates and are rejected without
// side effects.
func (p *Peer) AcceptOffer(localID string, offer models.Description) (models.Description, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.negotiation != NegotiationIdle {
		return models.Description{}, false, nil
	}
	if err := p.setRemoteLocked(offer); err != nil {
		return models.Description{}, false, err
	}
	p.negotiation = NegotiationOfferReceived
	sd, err := p.tr.CreateAnswer()
	if err != nil {
		return models.Description{}, false, err
	}
	p.negotiation = NegotiationAnswerSent
	return models.Description{
		Type: sd.Type.String(),
		SDP:  sd.SDP,
		From: localID,
		To:   p.RemoteID,
	}, true, nil
}

// AcceptAnswer applies a remote answer to a connection waiting in
// offer-sent. Answers in any other state are duplicates and ignored.
func (p *Peer) AcceptAnswer(answer models.Description) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.negotiation != NegotiationOfferSent {
		return false, nil
	}
	if err := p.setRemoteLocked(answer); err != nil {
		return false, err
	}
	p.negotiation = NegotiationAnswerReceived
	return true, nil
}

func (p *Peer) setRemoteLocked(desc models.Description) error {
	sd := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := p.tr.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		if err := p.tr.AddICECandidate(candidateInit(c)); err != nil {
			// A single bad candidate is not fatal; others may connect.
			continue
		}
	}
	return nil
}

// AddCandidate applies a trickled candidate, buffering it if the remote
// description has not been set yet. Buffered candidates flush in arrival
// order as soon as it is.
func (p *Peer) AddCandidate(c models.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		return nil
	}
	return p.tr.AddICECandidate(candidateInit(c))
}

// PendingCandidates reports how many candidates are buffered.
func (p *Peer) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Peer) markEstablished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.negotiation == NegotiationAnswerSent || p.negotiation == NegotiationAnswerReceived {
		p.negotiation = NegotiationEstablished
	}
}

func candidateInit(c models.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
