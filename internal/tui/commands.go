package tui

import (
	stderrors "errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/reschedule"
	"github.com/julianstephens/milkrun/internal/session"
)

type snapshotMsg session.Snapshot

type loadedMsg struct {
	err error
}

type availabilityMsg struct {
	dates []models.AvailableDate
	err   error
}

type resultMsg struct {
	op  string
	res reschedule.Result
	err error
}

func (m Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		return snapshotMsg(<-updates)
	}
}

func (m Model) focus() tea.Cmd {
	ctx, sess := m.ctx, m.session
	return func() tea.Msg {
		return loadedMsg{err: sess.Focus(ctx)}
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, sess := m.ctx, m.session
	return func() tea.Msg {
		return loadedMsg{err: sess.Refresh(ctx)}
	}
}

func (m Model) loadMonth(subscriptionID string, month session.Month) tea.Cmd {
	ctx, sess := m.ctx, m.session
	return func() tea.Msg {
		_, err := sess.LoadCalendar(ctx, subscriptionID, month.Year, month.Month)
		if stderrors.Is(err, session.ErrStaleResponse) {
			err = nil
		}
		return loadedMsg{err: err}
	}
}

func (m Model) queryAvailability(subscriptionID string, mv *moveForm) tea.Cmd {
	ctx, coord := m.ctx, m.coord
	from, dates, slot := mv.From, append([]string(nil), mv.Dates...), mv.Slot
	return func() tea.Msg {
		var (
			out []models.AvailableDate
			err error
		)
		if len(dates) > 1 {
			out, err = coord.BulkAvailability(ctx, subscriptionID, dates, slot)
		} else {
			out, err = coord.AvailableDates(ctx, subscriptionID, from, slot, 1)
		}
		return availabilityMsg{dates: out, err: err}
	}
}

func (m Model) changeSlot(subscriptionID string, mv *moveForm) tea.Cmd {
	ctx, coord := m.ctx, m.coord
	from, slot := mv.From, mv.Slot
	return func() tea.Msg {
		res, err := coord.ChangeSlot(ctx, subscriptionID, from, slot)
		return resultMsg{op: "slot", res: res, err: err}
	}
}

func (m Model) reschedule(subscriptionID string, mv *moveForm) tea.Cmd {
	ctx, coord := m.ctx, m.coord
	from, dates, to, slot := mv.From, append([]string(nil), mv.Dates...), mv.To, mv.Slot
	return func() tea.Msg {
		var (
			res reschedule.Result
			err error
		)
		if len(dates) > 1 {
			res, err = coord.RescheduleBulk(ctx, subscriptionID, dates, to, slot)
		} else {
			res, err = coord.RescheduleOne(ctx, subscriptionID, from, to, slot)
		}
		return resultMsg{op: "reschedule", res: res, err: err}
	}
}

func (m Model) confirm(subscriptionID, date string) tea.Cmd {
	ctx, coord := m.ctx, m.coord
	return func() tea.Msg {
		res, err := coord.Confirm(ctx, subscriptionID, date)
		return resultMsg{op: "confirm", res: res, err: err}
	}
}

func clearAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearMsg{} })
}

type clearMsg struct{}
