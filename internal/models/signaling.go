package models

// Description is one half of a session-description handshake. It is stored
// as a JSON value in the room's offers or answers slot, keyed by the
// originating participant id.
type Description struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Candidate is a trickled network candidate addressed to one peer. Candidates
// are appended to the recipient's inbox sub-collection and applied in order.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	From          string  `json:"from"`
	To            string  `json:"to"`
}

// RoomSnapshot is the full live value of a room document, delivered to
// watchers on every write from any client. Consumers reconcile against it
// rather than trusting any delta framing.
type RoomSnapshot struct {
	Participants map[string]string      `json:"participants"` // participant id -> display name
	Offers       map[string]Description `json:"offers"`       // keyed by originating id
	Answers      map[string]Description `json:"answers"`      // keyed by originating id
}
