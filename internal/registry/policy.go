package registry

import (
	"fmt"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
)

// Placement is what a play policy knows about one sender.
type Placement struct {
	Assigned    bool
	Active      bool
	ShareActive bool
	// HasLayout is false while no cells exist; the active sender is then
	// shown in single view.
	HasLayout bool
}

type PlayPolicy interface {
	Name() string
	ShouldPlay(p Placement) bool
}

// PauseUnassigned plays only what is on screen: senders placed in a cell, or
// the active sender when there is no layout.
type PauseUnassigned struct{}

func (PauseUnassigned) Name() string {
	return config.PolicyPauseUnassigned
}

func (PauseUnassigned) ShouldPlay(p Placement) bool {
	if !p.ShareActive {
		return false
	}
	if p.HasLayout {
		return p.Assigned
	}
	return p.Active
}

// AlwaysPlaying keeps every sharing sender decoding so switches are instant.
type AlwaysPlaying struct{}

func (AlwaysPlaying) Name() string {
	return config.PolicyAlwaysPlaying
}

func (AlwaysPlaying) ShouldPlay(p Placement) bool {
	return p.ShareActive
}

func ParsePlayPolicy(name string) (PlayPolicy, error) {
	switch name {
	case "", config.PolicyPauseUnassigned:
		return PauseUnassigned{}, nil
	case config.PolicyAlwaysPlaying:
		return AlwaysPlaying{}, nil
	default:
		return nil, fmt.Errorf("unknown play policy %q", name)
	}
}
