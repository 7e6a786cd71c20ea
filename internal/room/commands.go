package room

import (
	"context"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/display"
	"github.com/Jeong-dawon/MultiFlexer/internal/registry"
)

// State is the complete view of the receiver served by the control API.
type State struct {
	registry.State
	Connected bool           `json:"connected"`
	Mode      int            `json:"mode"`
	Focus     int            `json:"focus"`
	Geometry  []display.Cell `json:"geometry"`
}

// call runs fn on the loop and waits for its result.
func (r *Room) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := r.queue.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

func (r *Room) Senders(ctx context.Context) ([]core.SenderInfo, error) {
	var senders []core.SenderInfo
	err := r.call(ctx, func() error {
		senders = r.registry.GetAllSenders()
		return nil
	})
	return senders, err
}

func (r *Room) State(ctx context.Context) (State, error) {
	var s State
	err := r.call(ctx, func() error {
		s = State{
			State:     r.registry.State(),
			Connected: r.connected,
			Mode:      r.layout.Mode(),
			Focus:     r.layout.Focus(),
			Geometry:  r.layout.Cells(),
		}
		return nil
	})
	return s, err
}

func (r *Room) SetMode(ctx context.Context, n int) error {
	return r.call(ctx, func() error { return r.layout.SetMode(n) })
}

func (r *Room) SetFocus(ctx context.Context, i int) error {
	return r.call(ctx, func() error { return r.layout.SetFocus(i) })
}

func (r *Room) PickSender(ctx context.Context, id core.SenderID) error {
	return r.call(ctx, func() error { return r.layout.PickSender(id) })
}

func (r *Room) AssignCell(ctx context.Context, cell int, id core.SenderID) error {
	return r.call(ctx, func() error { return r.registry.AssignSenderToCell(cell, id) })
}

// Switch moves the active sender by offset and reports whether it changed.
func (r *Room) Switch(ctx context.Context, offset int) (bool, error) {
	var switched bool
	err := r.call(ctx, func() error {
		switched = r.registry.SwitchByOffset(offset)
		return nil
	})
	return switched, err
}
