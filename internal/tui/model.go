// Package tui is the interactive delivery calendar. It renders the month grid
// from session snapshots and sends every change through the reschedule
// coordinator.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/milkrun/internal/calendar"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/reschedule"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/status"
	"github.com/julianstephens/milkrun/internal/utils"
)

type State int

const (
	StateCalendar State = iota
	StateSlotForm
	StateMoveSlotForm
	StateDateForm
	StateConfirmForm
)

// moveForm holds the values bound to the huh forms of one slot change,
// reschedule or bulk move.
type moveForm struct {
	From    string
	Dates   []string // more than one for a bulk move
	Slot    models.Slot
	To      string
	OK      bool
	Options []models.AvailableDate
}

func (f *moveForm) bulk() bool {
	return len(f.Dates) > 1
}

type Model struct {
	ctx     context.Context
	session *session.Session
	coord   *reschedule.Coordinator
	builder *calendar.Builder
	keys    KeyMap
	help    help.Model
	spinner spinner.Model

	updates     chan session.Snapshot
	unsubscribe func()

	state    State
	snap     session.Snapshot
	cursor   string
	filter   status.Filter
	loading  bool
	busy     bool
	message  string
	errMsg   string
	form     *huh.Form
	move     *moveForm
	quitting bool
	width    int
	height   int
}

// NewModel opens the calendar on the current month with the cursor on today.
func NewModel(ctx context.Context, sess *session.Session, coord *reschedule.Coordinator) Model {
	updates := make(chan session.Snapshot, 1)
	unsubscribe := sess.Subscribe(func(snap session.Snapshot) {
		publish(updates, snap)
	})

	today := coord.Today()
	t, err := time.Parse("2006-01-02", today)
	if err != nil {
		t = time.Now()
	}
	sess.SelectMonth(t.Year(), t.Month())

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	return Model{
		ctx:         ctx,
		session:     sess,
		coord:       coord,
		builder:     calendar.NewBuilder(),
		keys:        DefaultKeyMap(),
		help:        help.New(),
		spinner:     sp,
		updates:     updates,
		unsubscribe: unsubscribe,
		state:       StateCalendar,
		snap:        sess.Snapshot(),
		cursor:      utils.DateKeyOf(t),
		loading:     true,
	}
}

// publish keeps only the newest snapshot queued for the UI.
func publish(ch chan session.Snapshot, snap session.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot(), m.focus())
}

func (m Model) ShortHelp() []key.Binding {
	if m.coord.Selection.Active() {
		return []key.Binding{m.keys.Toggle, m.keys.Bulk, m.keys.Select, m.keys.Help, m.keys.Quit}
	}
	return []key.Binding{m.keys.Move, m.keys.Slot, m.keys.Confirm, m.keys.Select, m.keys.Help, m.keys.Quit}
}

func (m Model) FullHelp() [][]key.Binding {
	navigation := []key.Binding{m.keys.Up, m.keys.Down, m.keys.Left, m.keys.Right, m.keys.PrevMonth, m.keys.NextMonth, m.keys.Today}
	actions := []key.Binding{m.keys.Slot, m.keys.Move, m.keys.Confirm, m.keys.Select, m.keys.Toggle, m.keys.Bulk}
	global := []key.Binding{m.keys.Filter, m.keys.Refresh, m.keys.Help, m.keys.Quit}
	return [][]key.Binding{navigation, actions, global}
}

// cells builds the grid for the selected month from the current snapshot.
func (m Model) cells() []calendar.Cell {
	month := m.snap.Month
	if month.IsZero() {
		return nil
	}
	opts := calendar.Options{
		Filter:    m.filter,
		Selecting: m.coord.Selection.Active(),
		Selected:  m.coord.Selection.Dates(),
		Today:     m.coord.Today(),
	}
	return m.builder.Build(month.Anchor(), m.snap.Deliveries, opts)
}

// cursorDelivery returns the delivery under the cursor, if the loaded month
// has one.
func (m Model) cursorDelivery() (*models.Delivery, bool) {
	d, ok := m.session.Delivery(m.cursor)
	if !ok {
		return nil, false
	}
	return &d, true
}
