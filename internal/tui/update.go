package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/milkrun/internal/errors"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/reschedule"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/status"
	"github.com/julianstephens/milkrun/internal/utils"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, m.waitForSnapshot()

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			m.errMsg = errors.UserMessage(msg.err)
		}
		return m, nil

	case availabilityMsg:
		m.busy = false
		return m.openDateForm(msg)

	case resultMsg:
		m.busy = false
		return m.applyResult(msg)

	case clearMsg:
		m.message = ""
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state != StateCalendar {
		return m.updateForm(msg)
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.form == nil {
		// submitted; the modal waits for the result
		return m, nil
	}
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEsc {
		return m.closeForm(), nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m.submitForm(cmd)
	case huh.StateAborted:
		return m.closeForm(), cmd
	}
	return m, cmd
}

// submitForm acts on a completed form. Every service call runs as a command
// so the UI stays responsive while it is in flight. The modal stays open
// until the result arrives, so a failure can be corrected and retried.
func (m Model) submitForm(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	state, mv := m.state, m.move
	m.form = nil
	m.errMsg = ""

	sub := m.snap.Subscription
	if sub == nil || mv == nil {
		return m.closeForm(), cmd
	}

	switch state {
	case StateSlotForm:
		m.busy = true
		return m, tea.Batch(cmd, m.changeSlot(sub.ID, mv))
	case StateMoveSlotForm:
		m.busy = true
		return m, tea.Batch(cmd, m.queryAvailability(sub.ID, mv))
	case StateDateForm:
		if !mv.OK {
			m = m.closeForm()
			m.message = "Reschedule cancelled."
			return m, cmd
		}
		m.busy = true
		return m, tea.Batch(cmd, m.reschedule(sub.ID, mv))
	case StateConfirmForm:
		if !mv.OK {
			return m.closeForm(), cmd
		}
		m.busy = true
		return m, tea.Batch(cmd, m.confirm(sub.ID, mv.From))
	}
	return m.closeForm(), cmd
}

func (m Model) closeForm() Model {
	m.state = StateCalendar
	m.form = nil
	m.move = nil
	return m
}

// reopenForm shows the current modal again with the values already chosen
// and err as its message.
func (m Model) reopenForm(err error) (tea.Model, tea.Cmd) {
	m.errMsg = errors.UserMessage(err)
	form := m.formFor(m.state, m.move)
	if form == nil {
		m = m.closeForm()
		return m, nil
	}
	if m.state == StateDateForm || m.state == StateConfirmForm {
		m.move.OK = true
	}
	m.form = form
	return m, m.form.Init()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.unsubscribe()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Left):
		return m.moveCursor(-1)
	case key.Matches(msg, m.keys.Right):
		return m.moveCursor(1)
	case key.Matches(msg, m.keys.Up):
		return m.moveCursor(-7)
	case key.Matches(msg, m.keys.Down):
		return m.moveCursor(7)
	case key.Matches(msg, m.keys.PrevMonth):
		return m.shiftMonth(-1)
	case key.Matches(msg, m.keys.NextMonth):
		return m.shiftMonth(1)
	case key.Matches(msg, m.keys.Today):
		return m.jumpTo(m.coord.Today())
	case key.Matches(msg, m.keys.Filter):
		m.filter = nextFilter(m.snap.Subscription, m.filter)
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		m.loading = true
		m.errMsg = ""
		return m, m.refresh()
	}

	if m.busy || m.coord.Busy() {
		m.message = "Please wait for the current change to finish."
		return m, nil
	}
	m.errMsg = ""

	switch {
	case key.Matches(msg, m.keys.Select):
		if m.coord.Selection.Active() {
			m.coord.Selection.Exit()
			m.message = ""
		} else {
			m.coord.Selection.Enter()
			m.message = "Select deliveries with space, then press b to move them."
		}
		return m, nil
	case key.Matches(msg, m.keys.Toggle):
		return m.toggleCursor()
	case key.Matches(msg, m.keys.Bulk):
		return m.startBulk()
	case key.Matches(msg, m.keys.Slot):
		return m.startSlotChange()
	case key.Matches(msg, m.keys.Move):
		return m.startMove()
	case key.Matches(msg, m.keys.Confirm):
		return m.startConfirm()
	}
	return m, nil
}

func (m Model) moveCursor(days int) (tea.Model, tea.Cmd) {
	next, err := utils.AddDays(m.cursor, days)
	if err != nil {
		return m, nil
	}
	return m.jumpTo(next)
}

func (m Model) shiftMonth(delta int) (tea.Model, tea.Cmd) {
	t, err := time.Parse("2006-01-02", m.cursor)
	if err != nil {
		return m, nil
	}
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return m.jumpTo(utils.DateKeyOf(first))
}

// jumpTo moves the cursor and, when it leaves the month on screen, selects
// and loads the new month.
func (m Model) jumpTo(date string) (tea.Model, tea.Cmd) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return m, nil
	}
	m.cursor = date
	if !m.session.SelectMonth(t.Year(), t.Month()) {
		return m, nil
	}
	m.snap = m.session.Snapshot()
	if m.snap.Subscription == nil {
		return m, nil
	}
	m.loading = true
	return m, m.loadMonth(m.snap.Subscription.ID, session.MonthOf(t))
}

func (m Model) toggleCursor() (tea.Model, tea.Cmd) {
	if !m.coord.Selection.Active() {
		m.message = "Press s to start selecting deliveries."
		return m, nil
	}
	d, _ := m.cursorDelivery()
	was := m.coord.Selection.Contains(m.cursor)
	if now := m.coord.Selection.Toggle(m.cursor, d, m.coord.Today()); !now && !was {
		m.message = fmt.Sprintf("Nothing on %s can be moved.", m.cursor)
	}
	return m, nil
}

func (m Model) startSlotChange() (tea.Model, tea.Cmd) {
	d, ok := m.cursorDelivery()
	if !ok || !reschedule.Has(reschedule.Actions(d, m.coord.Today()), reschedule.ActionChangeSlot) {
		m.errMsg = "This day has no delivery whose slot can be changed."
		return m, nil
	}
	m.move = &moveForm{From: m.cursor, Slot: otherSlot(d.Slot)}
	m.state = StateSlotForm
	m.form = m.formFor(m.state, m.move)
	return m, m.form.Init()
}

func (m Model) startMove() (tea.Model, tea.Cmd) {
	d, ok := m.cursorDelivery()
	if !ok || !reschedule.Has(reschedule.Actions(d, m.coord.Today()), reschedule.ActionReschedule) {
		m.errMsg = "This day has no delivery that can be rescheduled."
		return m, nil
	}
	m.move = &moveForm{From: m.cursor, Dates: []string{m.cursor}, Slot: d.Slot}
	m.state = StateMoveSlotForm
	m.form = m.formFor(m.state, m.move)
	return m, m.form.Init()
}

func (m Model) startBulk() (tea.Model, tea.Cmd) {
	dates := m.coord.Selection.Dates()
	if !m.coord.Selection.Active() || len(dates) == 0 {
		m.errMsg = "Select at least one delivery to move."
		return m, nil
	}
	slot := models.SlotMorning
	if sub := m.snap.Subscription; sub != nil && sub.Slot.Valid() {
		slot = sub.Slot
	}
	m.move = &moveForm{From: dates[0], Dates: dates, Slot: slot}
	m.state = StateMoveSlotForm
	m.form = m.formFor(m.state, m.move)
	return m, m.form.Init()
}

func (m Model) startConfirm() (tea.Model, tea.Cmd) {
	d, ok := m.cursorDelivery()
	if !ok || !reschedule.ConfirmOffered(d, m.coord.Today()) {
		m.errMsg = "Only today's delivery can be confirmed."
		return m, nil
	}
	m.move = &moveForm{From: m.cursor, OK: true}
	m.state = StateConfirmForm
	m.form = m.formFor(m.state, m.move)
	return m, m.form.Init()
}

// formFor builds the form shown in state for mv.
func (m Model) formFor(state State, mv *moveForm) *huh.Form {
	if mv == nil {
		return nil
	}
	switch state {
	case StateSlotForm:
		return slotForm(fmt.Sprintf("Delivery slot for %s", mv.From), &mv.Slot)
	case StateMoveSlotForm:
		title := fmt.Sprintf("Move the delivery on %s to which slot?", mv.From)
		if mv.bulk() {
			title = fmt.Sprintf("Move %d deliveries to which slot?", len(mv.Dates))
		}
		return slotForm(title, &mv.Slot)
	case StateDateForm:
		if len(mv.Options) == 0 {
			return nil
		}
		title := fmt.Sprintf("Move the %s delivery on %s to", mv.Slot, mv.From)
		if mv.bulk() {
			title = fmt.Sprintf("Move %d deliveries (%s slot) to the block starting", len(mv.Dates), mv.Slot)
		}
		return dateForm(title, mv)
	case StateConfirmForm:
		label := ""
		if d, ok := m.session.Delivery(mv.From); ok {
			label = status.Describe(&d, m.filter).Label
		}
		return huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("Did you receive today's delivery?").
				Description(label).
				Affirmative("Yes, received").
				Negative("Not yet").
				Value(&mv.OK),
		))
	}
	return nil
}

func (m Model) openDateForm(msg availabilityMsg) (tea.Model, tea.Cmd) {
	mv := m.move
	if mv == nil {
		return m, nil
	}
	if msg.err != nil {
		if m.state == StateMoveSlotForm {
			return m.reopenForm(msg.err)
		}
		m = m.closeForm()
		m.errMsg = errors.UserMessage(msg.err)
		return m, nil
	}
	if len(msg.dates) == 0 {
		m = m.closeForm()
		m.errMsg = "No dates are available in the reschedule window."
		return m, nil
	}

	mv.Options = msg.dates
	mv.To = msg.dates[0].Date
	mv.OK = true
	m.state = StateDateForm
	m.form = m.formFor(m.state, mv)
	return m, m.form.Init()
}

func (m Model) applyResult(msg resultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil && msg.res.Kind != reschedule.Applied {
		logger.Debug("tui action failed", "op", msg.op, "error", msg.err)
		if m.state != StateCalendar && m.move != nil {
			return m.reopenForm(msg.err)
		}
		m.errMsg = errors.UserMessage(msg.err)
		return m, nil
	}

	m = m.closeForm()
	m.message = msg.res.Message
	if m.message == "" {
		m.message = "Done."
	}
	if msg.err != nil {
		// Applied, but the follow-up refresh failed
		m.errMsg = errors.UserMessage(msg.err)
	}
	m.snap = m.session.Snapshot()
	return m, clearAfter(5 * time.Second)
}

// nextFilter cycles through no filter and each subscribed product.
func nextFilter(sub *models.Subscription, current status.Filter) status.Filter {
	if sub == nil || len(sub.Products) == 0 {
		return status.Filter{}
	}
	if !current.Active() {
		return status.Filter{Product: sub.Products[0].Name}
	}
	for i, p := range sub.Products {
		if p.Name == current.Product || p.ProductID == current.Product {
			if i+1 < len(sub.Products) {
				return status.Filter{Product: sub.Products[i+1].Name}
			}
			return status.Filter{}
		}
	}
	return status.Filter{}
}

func otherSlot(s models.Slot) models.Slot {
	if s == models.SlotMorning {
		return models.SlotEvening
	}
	return models.SlotMorning
}
