// Package registry is the single writer of the receiver's shared state: the
// tracked senders and their sessions, the registration order, the active
// sender and the cell assignment table.
//
// A Registry is not safe for concurrent use. Every method must run on the
// serialized loop.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/display"
	"github.com/Jeong-dawon/MultiFlexer/internal/loop"
	"github.com/Jeong-dawon/MultiFlexer/internal/session"
	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
	"github.com/Jeong-dawon/MultiFlexer/internal/telemetry"
)

const DefaultSwitchCooldown = 150 * time.Millisecond

var (
	ErrUnknownSender = errors.New("unknown sender")
	ErrInvalidCell   = errors.New("invalid cell index")
	ErrUnknownEvent  = errors.New("unknown event")
)

// Observer is told about roster changes. Calls happen on the loop and must
// not block.
type Observer interface {
	RosterChanged(senders []core.SenderInfo)
	SenderEvent(event core.SenderEvent)
}

type nopObserver struct{}

func (nopObserver) RosterChanged([]core.SenderInfo) {}
func (nopObserver) SenderEvent(core.SenderEvent)    {}

type Options struct {
	Emitter        session.Emitter
	Display        display.Display
	Factory        session.MediaFactory
	Executor       loop.Executor
	Policy         PlayPolicy
	Observer       Observer
	GracePeriod    time.Duration
	SwitchCooldown time.Duration
	Now            func() time.Time
}

type entry struct {
	sender  *core.Sender
	session *session.PeerSession
}

type switchMark struct {
	senderID core.SenderID
	at       time.Time
}

type Registry struct {
	emitter  session.Emitter
	display  display.Display
	factory  session.MediaFactory
	exec     loop.Executor
	policy   PlayPolicy
	observer Observer
	grace    time.Duration
	cooldown time.Duration
	now      func() time.Time

	entries    map[core.SenderID]*entry
	order      []core.SenderID
	cells      []core.SenderID
	active     core.SenderID
	lastSwitch time.Time
	mark       *switchMark
}

func New(opts Options) *Registry {
	if opts.Executor == nil {
		opts.Executor = loop.Inline
	}
	if opts.Policy == nil {
		opts.Policy = PauseUnassigned{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.SwitchCooldown <= 0 {
		opts.SwitchCooldown = DefaultSwitchCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		emitter:  opts.Emitter,
		display:  opts.Display,
		factory:  opts.Factory,
		exec:     opts.Executor,
		policy:   opts.Policy,
		observer: opts.Observer,
		grace:    opts.GracePeriod,
		cooldown: opts.SwitchCooldown,
		now:      opts.Now,
		entries:  make(map[core.SenderID]*entry),
	}
}

// Dispatch routes a signaling event through the handler table.
func (r *Registry) Dispatch(event string, data json.RawMessage) error {
	handler, ok := Handlers[event]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	return handler(r, data)
}

func (r *Registry) addSender(id core.SenderID, name string) (*entry, error) {
	sess, err := session.New(session.Options{
		SenderID:     string(id),
		Executor:     r.exec,
		Emitter:      r.emitter,
		Factory:      r.factory,
		GracePeriod:  r.grace,
		OnDown:       r.onSessionDown,
		OnFirstFrame: r.onFirstFrame,
	})
	if err != nil {
		return nil, err
	}

	sender := core.NewSender(id, name)

	handle := r.display.EnsureWidget(string(id), sender.Name)
	sess.BindDisplay(handle)

	if err := sess.Start(); err != nil {
		sess.Stop()
		r.display.RemoveWidget(string(id))
		return nil, &session.MediaInitError{SenderID: string(id), Err: err}
	}

	e := &entry{sender: sender, session: sess}
	r.entries[id] = e
	r.order = append(r.order, id)

	log.Info().Str("service", "registry").Str("senderID", string(id)).Str("name", sender.Name).Msg("sender tracked")
	r.record(sender, core.SenderJoined, "")

	return e, nil
}

// OnSenderList tracks every announced sender that is not known yet and asks
// it to share.
func (r *Registry) OnSenderList(list []signaling.SenderEntry) error {
	var errs []error
	changed := false

	for _, item := range list {
		id := core.SenderID(item.ID)
		if id == "" {
			log.Warn().Str("service", "registry").Msg("sender-list entry without id")
			continue
		}
		if _, ok := r.entries[id]; ok {
			continue
		}

		if _, err := r.addSender(id, item.Name); err != nil {
			log.Error().Str("service", "registry").Str("senderID", item.ID).Err(err).Msg("cannot track sender")
			errs = append(errs, err)
			continue
		}
		changed = true

		if err := r.emitter.Emit(signaling.EventShareRequest, signaling.ShareRequest{To: item.ID}); err != nil {
			log.Warn().Str("service", "registry").Str("senderID", item.ID).Err(err).Msg("share-request not sent")
		}

		if r.active == "" {
			r.setActive(id)
		}
	}

	if r.active != "" {
		if _, ok := r.entries[r.active]; !ok {
			r.setActive("")
		}
	}

	if changed {
		r.rosterChanged()
	}

	return errors.Join(errs...)
}

// OnShareStarted marks the sender as sharing, creating its session when the
// announcement was missed, and starts negotiation.
func (r *Registry) OnShareStarted(item signaling.SenderEntry) error {
	id := core.SenderID(item.ID)
	if id == "" {
		return signaling.ErrMissingSenderID
	}

	e, ok := r.entries[id]
	if !ok {
		var err error
		if e, err = r.addSender(id, item.Name); err != nil {
			return err
		}
	} else if item.Name != "" {
		e.sender.Name = item.Name
	}

	e.sender.ShareActive = true
	e.session.SetShareActive(true)
	e.session.Resume()
	e.session.MarkSenderReady()
	e.session.RequestNegotiation()

	// the widget is dropped on share-stop
	handle := r.display.EnsureWidget(item.ID, e.sender.Name)
	e.session.BindDisplay(handle)

	if r.active == "" {
		r.setActive(id)
	}
	r.syncPlayback()

	r.record(e.sender, core.SenderShareStarted, "")
	r.rosterChanged()

	return nil
}

func (r *Registry) OnShareStopped(id core.SenderID) error {
	e, ok := r.entries[id]
	if !ok {
		log.Warn().Str("service", "registry").Str("senderID", string(id)).Msg("share-stopped for unknown sender")
		return fmt.Errorf("%w: %s", ErrUnknownSender, id)
	}

	e.session.Pause()
	e.session.SetShareActive(false)
	e.sender.ShareActive = false

	r.clearCellsOf(id)
	r.display.RemoveWidget(string(id))

	if r.active == id {
		r.setActive(r.firstSharing(id))
	}

	r.record(e.sender, core.SenderShareStopped, "")
	r.rosterChanged()

	return nil
}

func (r *Registry) OnSignal(sig signaling.Signal) error {
	id := core.SenderID(sig.From)
	e, ok := r.entries[id]
	if !ok {
		log.Warn().Str("service", "registry").Str("senderID", sig.From).Str("type", sig.Type).Msg("signal from unknown sender")
		return fmt.Errorf("%w: %q", ErrUnknownSender, sig.From)
	}

	switch sig.Type {
	case signaling.SignalAnswer:
		raw, err := decodeSDP(sig.Payload)
		if err != nil {
			return &session.InvalidSdpError{SenderID: sig.From, Err: err}
		}
		if err := e.session.ApplyRemoteAnswer(raw); err != nil {
			log.Error().Str("service", "registry").Str("senderID", sig.From).Err(err).Msg("answer rejected")
			return err
		}
	case signaling.SignalCandidate:
		var c signaling.CandidatePayload
		if err := json.Unmarshal(sig.Payload, &c); err != nil {
			log.Warn().Str("service", "registry").Str("senderID", sig.From).Err(err).Msg("garbled candidate dropped")
			return nil
		}
		e.session.AddRemoteCandidate(c.SDPMLineIndex, c.SDPMid, c.Candidate)
	case signaling.SignalBye, signaling.SignalHangup, signaling.SignalClose:
		r.RemoveSender(id, sig.Type)
	default:
		log.Warn().Str("service", "registry").Str("senderID", sig.From).Str("type", sig.Type).Msg("unsupported signal ignored")
	}

	return nil
}

// decodeSDP accepts {type, sdp} or a bare SDP string.
func decodeSDP(payload json.RawMessage) (string, error) {
	var desc signaling.SDPPayload
	if err := json.Unmarshal(payload, &desc); err == nil {
		return desc.SDP, nil
	}

	var raw string
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", fmt.Errorf("decode sdp payload: %w", err)
	}
	return raw, nil
}

// OnRoomDeleted forgets every sender and publishes the empty roster once.
func (r *Registry) OnRoomDeleted() {
	removed := false
	for _, id := range append([]core.SenderID(nil), r.order...) {
		removed = r.removeSender(id, "room-deleted") || removed
	}
	r.setActive("")

	if removed {
		r.rosterChanged()
	}
}

// RemoveSender forgets the sender. Unknown ids are ignored.
func (r *Registry) RemoveSender(id core.SenderID, reason string) {
	if r.removeSender(id, reason) {
		r.rosterChanged()
	}
}

func (r *Registry) removeSender(id core.SenderID, reason string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}

	log.Info().Str("service", "registry").Str("senderID", string(id)).Str("reason", reason).Msg("removing sender")

	e.session.Stop()
	delete(r.entries, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.clearCellsOf(id)
	r.display.RemoveWidget(string(id))

	if r.mark != nil && r.mark.senderID == id {
		r.mark = nil
	}
	if r.active == id {
		r.setActive(r.firstSharing(""))
	}

	r.record(e.sender, core.SenderRemoved, reason)

	return true
}

func (r *Registry) onSessionDown(senderID, reason string) {
	r.RemoveSender(core.SenderID(senderID), reason)
}

func (r *Registry) onFirstFrame(senderID string) {
	if r.mark == nil || r.mark.senderID != core.SenderID(senderID) {
		return
	}

	latency := r.now().Sub(r.mark.at)
	r.mark = nil

	telemetry.SwitchObserved(latency)
	log.Info().
		Str("service", "registry").
		Str("senderID", senderID).
		Dur("switching_time", latency).
		Msg("switched to sender")
}

// AssignSenderToCell places the sender in the cell. The sender leaves any
// other cell and the previous occupant is evicted.
func (r *Registry) AssignSenderToCell(cell int, id core.SenderID) error {
	e, ok := r.entries[id]
	if !ok {
		log.Warn().Str("service", "registry").Str("senderID", string(id)).Int("cell", cell).Msg("assignment for unknown sender")
		return fmt.Errorf("%w: %s", ErrUnknownSender, id)
	}
	if cell < 0 || cell >= len(r.cells) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidCell, cell, len(r.cells))
	}

	for i, sid := range r.cells {
		if sid == id && i != cell {
			r.cells[i] = ""
			r.display.ClearCell(i)
		}
	}
	if prev := r.cells[cell]; prev != "" && prev != id {
		r.cells[cell] = ""
		r.display.ClearCell(cell)
	}

	r.cells[cell] = id
	r.display.MoveToCell(cell, string(id))
	e.session.Resume()

	r.syncPlayback()

	return nil
}

func (r *Registry) PauseAll() {
	for _, id := range r.order {
		r.entries[id].session.Pause()
	}
}

// ResetCells discards every assignment, allocates n empty cells and lets the
// play policy decide what keeps playing in the new layout.
func (r *Registry) ResetCells(n int) {
	if n < 0 {
		n = 0
	}
	r.cells = make([]core.SenderID, n)
	r.syncPlayback()
}

// SwitchByOffset moves the active sender through the sharing senders in
// registration order. It reports whether the active sender changed.
func (r *Registry) SwitchByOffset(offset int) bool {
	now := r.now()
	if !r.lastSwitch.IsZero() && now.Sub(r.lastSwitch) < r.cooldown {
		return false
	}

	sharing := r.sharing()
	if len(sharing) < 2 {
		return false
	}
	r.lastSwitch = now

	current := -1
	for i, id := range sharing {
		if id == r.active {
			current = i
			break
		}
	}

	// initial selection is not a timed switch
	if current < 0 {
		r.mark = nil
		r.setActive(sharing[0])
		r.syncPlayback()
		return true
	}

	n := len(sharing)
	next := sharing[((current+offset)%n+n)%n]
	if next == r.active {
		return false
	}

	r.mark = &switchMark{senderID: next, at: now}
	r.setActive(next)
	r.syncPlayback()

	return true
}

func (r *Registry) sharing() []core.SenderID {
	ids := make([]core.SenderID, 0, len(r.order))
	for _, id := range r.order {
		if r.entries[id].sender.ShareActive {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) firstSharing(except core.SenderID) core.SenderID {
	for _, id := range r.order {
		if id != except && r.entries[id].sender.ShareActive {
			return id
		}
	}
	return ""
}

func (r *Registry) setActive(id core.SenderID) {
	if r.active == id {
		return
	}
	r.active = id
	r.display.SetActiveSender(string(id))

	log.Debug().Str("service", "registry").Str("senderID", string(id)).Msg("active sender changed")
}

func (r *Registry) clearCellsOf(id core.SenderID) {
	for i, sid := range r.cells {
		if sid == id {
			r.cells[i] = ""
			r.display.ClearCell(i)
		}
	}
}

// syncPlayback applies the play policy to every tracked sender.
func (r *Registry) syncPlayback() {
	assigned := make(map[core.SenderID]bool, len(r.cells))
	for _, id := range r.cells {
		if id != "" {
			assigned[id] = true
		}
	}

	for _, id := range r.order {
		e := r.entries[id]
		play := r.policy.ShouldPlay(Placement{
			Assigned:    assigned[id],
			Active:      id == r.active,
			ShareActive: e.sender.ShareActive,
			HasLayout:   len(r.cells) > 0,
		})

		switch {
		case play && !e.session.IsPlaying():
			e.session.Resume()
		case !play && e.session.IsPlaying():
			e.session.Pause()
		}
	}
}

func (r *Registry) record(sender *core.Sender, kind core.SenderEventKind, reason string) {
	r.observer.SenderEvent(core.SenderEvent{
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Kind:       kind,
		Reason:     reason,
		CreatedAt:  r.now().UTC(),
	})
}

func (r *Registry) rosterChanged() {
	r.observer.RosterChanged(r.GetAllSenders())
}

// GetAllSenders returns the roster in registration order.
func (r *Registry) GetAllSenders() []core.SenderInfo {
	senders := make([]core.SenderInfo, 0, len(r.order))
	for _, id := range r.order {
		senders = append(senders, r.entries[id].sender.Info())
	}
	return senders
}

func (r *Registry) ActiveSender() core.SenderID {
	return r.active
}

func (r *Registry) Cells() []core.SenderID {
	return append([]core.SenderID(nil), r.cells...)
}

func (r *Registry) Tracked(id core.SenderID) bool {
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Session(id core.SenderID) (*session.PeerSession, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) Policy() PlayPolicy {
	return r.policy
}

type SenderState struct {
	core.SenderInfo
	Negotiation string `json:"negotiation"`
	ICE         string `json:"ice"`
	Playing     bool   `json:"playing"`
}

type State struct {
	Active  core.SenderID   `json:"active"`
	Cells   []core.SenderID `json:"cells"`
	Policy  string          `json:"policy"`
	Senders []SenderState   `json:"senders"`
}

func (r *Registry) State() State {
	s := State{
		Active:  r.active,
		Cells:   r.Cells(),
		Policy:  r.policy.Name(),
		Senders: make([]SenderState, 0, len(r.order)),
	}

	for _, id := range r.order {
		e := r.entries[id]
		s.Senders = append(s.Senders, SenderState{
			SenderInfo:  e.sender.Info(),
			Negotiation: e.session.State().String(),
			ICE:         e.session.ICEState().String(),
			Playing:     e.session.IsPlaying(),
		})
	}

	return s
}

// Close stops every session without touching the display.
func (r *Registry) Close() {
	for _, id := range r.order {
		r.entries[id].session.Stop()
	}
}
