package session

type NegotiationState int

const (
	Idle NegotiationState = iota
	AwaitingPlaying
	Ready
	Negotiating
	OfferSent
	Stable
	Closed
)

var negotiationStateNames = map[NegotiationState]string{
	Idle:            "idle",
	AwaitingPlaying: "awaiting_playing",
	Ready:           "ready",
	Negotiating:     "negotiating",
	OfferSent:       "offer_sent",
	Stable:          "stable",
	Closed:          "closed",
}

func (s NegotiationState) String() string {
	if name, ok := negotiationStateNames[s]; ok {
		return name
	}
	return "unknown"
}

var allowedTransitions = map[NegotiationState][]NegotiationState{
	Idle:            {AwaitingPlaying, Closed},
	AwaitingPlaying: {Ready, Closed},
	Ready:           {Negotiating, Closed},
	// back to Ready when the offer could not be created
	Negotiating: {OfferSent, Ready, Closed},
	OfferSent:   {Stable, Closed},
	Stable:      {Negotiating, Closed},
}

func (s NegotiationState) CanTransitionTo(next NegotiationState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ICEState int

const (
	ICENew ICEState = iota
	ICEChecking
	ICEConnected
	ICECompleted
	ICEFailed
	ICEDisconnected
	ICEClosed
)

var iceStateNames = map[ICEState]string{
	ICENew:          "new",
	ICEChecking:     "checking",
	ICEConnected:    "connected",
	ICECompleted:    "completed",
	ICEFailed:       "failed",
	ICEDisconnected: "disconnected",
	ICEClosed:       "closed",
}

func (s ICEState) String() string {
	if name, ok := iceStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Down reports whether the state starts the grace period.
func (s ICEState) Down() bool {
	return s == ICEFailed || s == ICEDisconnected || s == ICEClosed
}

func (s ICEState) Up() bool {
	return s == ICEConnected || s == ICECompleted
}
