package calendar

import (
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
)

// Builder memoizes the last grid it built. Renders that repeat the same
// month, deliveries and view state get the cached cells back.
type Builder struct {
	mu    sync.Mutex
	key   uint64
	cells []Cell
	hits  int
}

type memoKey struct {
	Year       int
	Month      int
	Deliveries []models.Delivery
	Options    Options
}

// NewBuilder creates an empty memoizing builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns the grid for anchor, reusing the previous result when the
// inputs hash the same. The returned cells, deliveries included, are copies
// and may be modified.
func (b *Builder) Build(anchor time.Time, deliveries []models.Delivery, opts Options) []Cell {
	key, err := hashstructure.Hash(memoKey{
		Year:       anchor.Year(),
		Month:      int(anchor.Month()),
		Deliveries: deliveries,
		Options:    opts,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		logger.Debug("calendar memo key failed, rebuilding", "error", err)
		return Build(anchor, deliveries, opts)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cells != nil && b.key == key {
		b.hits++
		logger.Debug("calendar memo hit", "month", anchor.Format("2006-01"), "hits", b.hits)
		return cloneCells(b.cells)
	}
	b.cells = Build(anchor, deliveries, opts)
	b.key = key
	return cloneCells(b.cells)
}

func cloneCells(in []Cell) []Cell {
	out := make([]Cell, len(in))
	for i, c := range in {
		if c.Delivery != nil {
			d := c.Delivery.Clone()
			c.Delivery = &d
		}
		out[i] = c
	}
	return out
}
