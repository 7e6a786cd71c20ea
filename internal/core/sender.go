package core

import "time"

// SenderID is the signaling-channel id of a remote sender.
type SenderID string

// Sender is a remote peer producing a screen stream.
type Sender struct {
	ID          SenderID
	Name        string
	ShareActive bool
	JoinedAt    time.Time
}

func NewSender(id SenderID, name string) *Sender {
	if name == "" {
		name = string(id)
	}

	return &Sender{
		ID:          id,
		Name:        name,
		ShareActive: true,
		JoinedAt:    time.Now().UTC(),
	}
}

// Info returns the roster view of the sender.
func (s *Sender) Info() SenderInfo {
	return SenderInfo{
		ID:     s.ID,
		Name:   s.Name,
		Active: s.ShareActive,
	}
}

// SenderInfo is one roster entry as published to participant notifiers.
type SenderInfo struct {
	ID     SenderID `json:"id"`
	Name   string   `json:"name"`
	Active bool     `json:"active"`
}
