// Package calendar lays out the month grid shown by the TUI and the
// calendar command. Weeks start on Sunday and the grid always spans whole
// weeks, so leading and trailing days from the neighbouring months are
// included and flagged as out of month.
package calendar

import (
	"time"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/status"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Cell is one day of the rendered grid. It is recomputed on every build and
// never persisted.
type Cell struct {
	Date           string
	Day            int
	Weekday        time.Weekday
	IsCurrentMonth bool
	IsToday        bool
	Delivery       *models.Delivery
	Visual         status.Visual
	Appearance     status.Appearance
	Selectable     bool
	Selected       bool
	Clickable      bool
}

// Options carries the view state that affects how cells resolve.
type Options struct {
	Filter    status.Filter
	Selecting bool
	Selected  []string
	Today     string // YYYY-MM-DD; empty disables today highlighting and past checks
}

// Eligible reports whether a delivery may join a bulk selection: it must be
// movable and dated today or later.
func Eligible(d *models.Delivery, today string) bool {
	if d == nil || !d.Status.Movable() {
		return false
	}
	if today == "" {
		return true
	}
	return !utils.IsPast(d.Date, today)
}

// Build returns the cells for the month containing anchor. Only the year and
// month of anchor are used.
func Build(anchor time.Time, deliveries []models.Delivery, opts Options) []Cell {
	monthStart := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)
	gridStart := monthStart.AddDate(0, 0, -int(monthStart.Weekday()))
	gridEnd := monthEnd.AddDate(0, 0, 6-int(monthEnd.Weekday()))

	byDate := make(map[string]*models.Delivery, len(deliveries))
	for i := range deliveries {
		key := utils.DateKey(deliveries[i].Date)
		if key == "" {
			continue
		}
		// Storage guarantees one delivery per date; keep the first if a
		// payload ever repeats one.
		if _, exists := byDate[key]; exists {
			continue
		}
		d := deliveries[i].Clone()
		byDate[key] = &d
	}

	selected := make(map[string]bool, len(opts.Selected))
	for _, s := range opts.Selected {
		selected[utils.DateKey(s)] = true
	}
	todayKey := utils.DateKey(opts.Today)

	days := utils.DaysBetween(gridStart, gridEnd) + 1
	cells := make([]Cell, 0, days)
	for day := gridStart; !day.After(gridEnd); day = day.AddDate(0, 0, 1) {
		key := utils.DateKeyOf(day)
		d := byDate[key]
		visual := status.Resolve(d, opts.Filter)
		cell := Cell{
			Date:           key,
			Day:            day.Day(),
			Weekday:        day.Weekday(),
			IsCurrentMonth: day.Month() == monthStart.Month(),
			IsToday:        todayKey != "" && key == todayKey,
			Visual:         visual,
			Appearance:     status.Describe(d, opts.Filter),
			Selected:       selected[key],
		}
		if visual != status.None {
			cell.Delivery = d
			cell.Clickable = true
			cell.Selectable = opts.Selecting && Eligible(d, todayKey)
		}
		cells = append(cells, cell)
	}
	return cells
}

// Weeks splits a built grid into rows of seven.
func Weeks(cells []Cell) [][]Cell {
	rows := make([][]Cell, 0, len(cells)/7)
	for i := 0; i+7 <= len(cells); i += 7 {
		rows = append(rows, cells[i:i+7])
	}
	return rows
}

// Find returns the cell for a date, matching on the date-only key.
func Find(cells []Cell, date string) (Cell, bool) {
	key := utils.DateKey(date)
	for _, c := range cells {
		if c.Date == key {
			return c, true
		}
	}
	return Cell{}, false
}
