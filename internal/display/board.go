package display

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

type Widget struct {
	SenderID string `json:"sender_id"`
	Name     string `json:"name"`
	Handle   Handle `json:"handle"`
	Cell     int    `json:"cell"`
}

type Snapshot struct {
	Mode    int      `json:"mode"`
	Cells   []Cell   `json:"cells"`
	Placed  []string `json:"placed"`
	Active  string   `json:"active"`
	Widgets []Widget `json:"widgets"`
}

// Board is a headless Display. It keeps the arrangement in memory so it can
// be inspected through the control API and in tests.
type Board struct {
	lock       sync.RWMutex
	nextHandle Handle
	widgets    map[string]*Widget
	mode       int
	cells      []Cell
	placed     []string
	active     string
}

var _ Display = (*Board)(nil)

func NewBoard() *Board {
	return &Board{
		nextHandle: 1,
		widgets:    make(map[string]*Widget),
	}
}

func (b *Board) EnsureWidget(senderID, name string) Handle {
	b.lock.Lock()
	defer b.lock.Unlock()

	if w, ok := b.widgets[senderID]; ok {
		if name != "" {
			w.Name = name
		}
		return w.Handle
	}

	w := &Widget{SenderID: senderID, Name: name, Handle: b.nextHandle, Cell: -1}
	b.nextHandle++
	b.widgets[senderID] = w

	log.Debug().Str("service", "display").Str("senderID", senderID).Uint64("handle", uint64(w.Handle)).Msg("widget created")

	return w.Handle
}

func (b *Board) RemoveWidget(senderID string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	w, ok := b.widgets[senderID]
	if !ok {
		return
	}
	if w.Cell >= 0 && w.Cell < len(b.placed) {
		b.placed[w.Cell] = ""
	}
	if b.active == senderID {
		b.active = ""
	}
	delete(b.widgets, senderID)

	log.Debug().Str("service", "display").Str("senderID", senderID).Msg("widget removed")
}

func (b *Board) SetActiveSender(senderID string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.active = senderID
}

func (b *Board) ApplyLayout(mode int, cells []Cell) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.mode = mode
	b.cells = append([]Cell(nil), cells...)
	b.placed = make([]string, len(cells))
	for _, w := range b.widgets {
		w.Cell = -1
	}

	log.Debug().Str("service", "display").Int("mode", mode).Msg("layout applied")
}

func (b *Board) MoveToCell(cell int, senderID string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	w, ok := b.widgets[senderID]
	if !ok || cell < 0 || cell >= len(b.placed) {
		log.Warn().Str("service", "display").Str("senderID", senderID).Int("cell", cell).Msg("cannot move widget")
		return
	}

	if w.Cell >= 0 && w.Cell < len(b.placed) {
		b.placed[w.Cell] = ""
	}
	if prev := b.placed[cell]; prev != "" {
		if pw, ok := b.widgets[prev]; ok {
			pw.Cell = -1
		}
	}

	b.placed[cell] = senderID
	w.Cell = cell
}

func (b *Board) ClearCell(cell int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if cell < 0 || cell >= len(b.placed) {
		return
	}
	if prev := b.placed[cell]; prev != "" {
		if w, ok := b.widgets[prev]; ok {
			w.Cell = -1
		}
	}
	b.placed[cell] = ""
}

func (b *Board) HasWidget(senderID string) bool {
	b.lock.RLock()
	defer b.lock.RUnlock()

	_, ok := b.widgets[senderID]
	return ok
}

func (b *Board) Snapshot() Snapshot {
	b.lock.RLock()
	defer b.lock.RUnlock()

	s := Snapshot{
		Mode:    b.mode,
		Cells:   append([]Cell(nil), b.cells...),
		Placed:  append([]string(nil), b.placed...),
		Active:  b.active,
		Widgets: make([]Widget, 0, len(b.widgets)),
	}
	for _, w := range b.widgets {
		s.Widgets = append(s.Widgets, *w)
	}
	sort.Slice(s.Widgets, func(i, j int) bool { return s.Widgets[i].Handle < s.Widgets[j].Handle })

	return s
}
