// Package layout manages the split screen: the number of cells, their grid
// geometry and the focused cell that picks fill.
package layout

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/display"
)

const MaxMode = 4

var (
	ErrInvalidMode     = errors.New("invalid layout mode")
	ErrFocusOutOfRange = errors.New("focus out of range")
)

// Commander is the part of the registry the layout drives.
type Commander interface {
	AssignSenderToCell(cell int, id core.SenderID) error
	PauseAll()
	ResetCells(n int)
}

// Controller must be used from the serialized loop.
type Controller struct {
	commander Commander
	display   display.Display

	mode  int
	focus int
}

func NewController(commander Commander, d display.Display) *Controller {
	return &Controller{
		commander: commander,
		display:   d,
		focus:     -1,
	}
}

// SetMode switches to n cells. Every stream is paused and all assignments
// are dropped; mode 0 leaves single view.
func (c *Controller) SetMode(n int) error {
	if n < 0 || n > MaxMode {
		return fmt.Errorf("%w: %d", ErrInvalidMode, n)
	}

	c.commander.PauseAll()
	c.commander.ResetCells(n)
	c.display.ApplyLayout(n, Geometry(n))

	c.mode = n
	if n == 0 {
		c.focus = -1
	} else {
		c.focus = 0
	}

	log.Info().Str("service", "layout").Int("mode", n).Msg("layout mode changed")

	return nil
}

func (c *Controller) SetFocus(i int) error {
	if i < 0 || i >= c.mode {
		return fmt.Errorf("%w: %d of %d", ErrFocusOutOfRange, i, c.mode)
	}
	c.focus = i
	return nil
}

// PickSender puts the sender into the focused cell, creating a single cell
// layout first when there is none.
func (c *Controller) PickSender(id core.SenderID) error {
	if c.mode == 0 {
		if err := c.SetMode(1); err != nil {
			return err
		}
	}

	cell := c.focus
	if cell < 0 || cell >= c.mode {
		cell = 0
	}

	return c.commander.AssignSenderToCell(cell, id)
}

func (c *Controller) Mode() int {
	return c.mode
}

func (c *Controller) Focus() int {
	return c.focus
}

// Cells returns the geometry of the current mode.
func (c *Controller) Cells() []display.Cell {
	return Geometry(c.mode)
}

// Geometry returns the grid placement of each cell for mode n. Three cells
// use a full width top row over two bottom cells.
func Geometry(n int) []display.Cell {
	switch n {
	case 1:
		return []display.Cell{{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1}}
	case 2:
		return []display.Cell{
			{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1},
			{Row: 0, Col: 1, RowSpan: 1, ColSpan: 1},
		}
	case 3:
		return []display.Cell{
			{Row: 0, Col: 0, RowSpan: 1, ColSpan: 2},
			{Row: 1, Col: 0, RowSpan: 1, ColSpan: 1},
			{Row: 1, Col: 1, RowSpan: 1, ColSpan: 1},
		}
	case 4:
		return []display.Cell{
			{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1},
			{Row: 0, Col: 1, RowSpan: 1, ColSpan: 1},
			{Row: 1, Col: 0, RowSpan: 1, ColSpan: 1},
			{Row: 1, Col: 1, RowSpan: 1, ColSpan: 1},
		}
	default:
		return nil
	}
}
