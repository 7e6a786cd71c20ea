// Package display describes the surface that shows sender streams and
// provides a headless implementation of it.
package display

// Handle identifies the native surface a media sink renders into.
type Handle uint64

// Cell places one display slot on a grid.
type Cell struct {
	Row     int `json:"row"`
	Col     int `json:"col"`
	RowSpan int `json:"row_span"`
	ColSpan int `json:"col_span"`
}

// Display is driven from the serialized loop only.
type Display interface {
	// EnsureWidget returns the handle of the sender's widget, creating it when
	// the sender has none yet.
	EnsureWidget(senderID, name string) Handle
	RemoveWidget(senderID string)
	// SetActiveSender selects the sender for single view; "" clears it.
	SetActiveSender(senderID string)
	ApplyLayout(mode int, cells []Cell)
	MoveToCell(cell int, senderID string)
	ClearCell(cell int)
}
