package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/milkrun/internal/calendar"
	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/reschedule"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/status"
)

var legendOrder = []status.Visual{
	status.Upcoming,
	status.Awaiting,
	status.Delivered,
	status.Cancelled,
	status.NoResponse,
	status.Concession,
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch {
	case m.state != StateCalendar && m.form != nil:
		content = m.form.View()
		if m.errMsg != "" {
			content = lipgloss.JoinVertical(lipgloss.Left, content, "", dangerStyle.Render(m.errMsg))
		}
	case m.state != StateCalendar:
		content = m.spinner.View() + " Sending your change..."
	case m.snap.State == session.StateNone:
		content = "You have no active subscription.\nCreate one with 'milkrun subscription create'."
	case m.snap.State == session.StateFailed && m.snap.Subscription == nil:
		content = "Could not load your subscription. Press r to try again."
	default:
		cells := m.cells()
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.viewGrid(cells), m.viewDetail(cells))
	}

	return docStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewHeader(),
		"",
		content,
		"",
		m.viewStatus(),
		m.help.View(m),
	))
}

func (m Model) viewHeader() string {
	title := "milkrun"
	if sub := m.snap.Subscription; sub != nil {
		title = fmt.Sprintf("milkrun · %s · %s to %s", sub.SubscriptionID, sub.StartDate, sub.EndDate)
	}
	header := titleStyle.Render(title)
	if !m.snap.Month.IsZero() {
		header += "  " + m.snap.Month.Anchor().Format("January 2006")
	}
	if m.filter.Active() {
		header += "  " + warningStyle.Render("filter: "+m.filter.Product)
	}
	if m.coord.Selection.Active() {
		header += "  " + accentStyle.Render(fmt.Sprintf("selecting (%d)", m.coord.Selection.Len()))
	}
	return header
}

func (m Model) viewGrid(cells []calendar.Cell) string {
	var b strings.Builder
	for _, wd := range []string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"} {
		b.WriteString(weekdayStyle.Render(wd))
	}
	b.WriteString("\n")

	for _, week := range calendar.Weeks(cells) {
		for _, c := range week {
			b.WriteString(m.viewCell(c))
		}
		b.WriteString("\n")
	}
	if !m.snap.CalendarLoaded && !m.loading {
		b.WriteString(warningStyle.Render("Calendar not loaded."))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(viewLegend())
	return b.String()
}

func (m Model) viewCell(c calendar.Cell) string {
	marker := " "
	switch {
	case c.Selected:
		marker = "*"
	case c.Selectable:
		marker = "+"
	}
	text := fmt.Sprintf("%2d%s", c.Day, marker)

	style := lipgloss.NewStyle()
	switch {
	case !c.IsCurrentMonth:
		style = outsideStyle
	case c.Visual != status.None:
		style = cli.StatusStyle(c.Appearance)
	}
	if c.IsToday {
		style = style.Bold(true)
	}
	if c.Date == m.cursor {
		style = style.Inherit(cursorStyle)
	}
	return " " + style.Render(text)
}

func viewLegend() string {
	parts := make([]string, 0, len(legendOrder))
	for _, v := range legendOrder {
		a := status.AppearanceOf(v)
		parts = append(parts, cli.StatusStyle(a).Render("■ "+a.Label))
	}
	return strings.Join(parts, "  ")
}

func (m Model) viewDetail(cells []calendar.Cell) string {
	c, ok := calendar.Find(cells, m.cursor)
	if !ok {
		return ""
	}

	lines := []string{titleStyle.Render(shortDate(c.Date))}
	if c.Delivery == nil {
		lines = append(lines, status.AppearanceOf(status.None).Label)
		return detailStyle.Render(strings.Join(lines, "\n"))
	}

	d := c.Delivery
	lines = append(lines,
		cli.StatusStyle(c.Appearance).Render(c.Appearance.Label),
		fmt.Sprintf("Slot: %s", d.Slot),
		fmt.Sprintf("Products: %s", cli.FormatProducts(d.Products)),
	)
	if note := status.Explain(d); note != "" {
		lines = append(lines, "", lipgloss.NewStyle().Width(36).Render(note))
	}

	var hints []string
	for _, a := range reschedule.Actions(d, m.coord.Today()) {
		switch a {
		case reschedule.ActionChangeSlot:
			hints = append(hints, "e slot")
		case reschedule.ActionReschedule:
			hints = append(hints, "m move")
		case reschedule.ActionConfirm:
			hints = append(hints, "c confirm")
		}
	}
	if len(hints) > 0 {
		lines = append(lines, "", accentStyle.Render(strings.Join(hints, " · ")))
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) viewStatus() string {
	switch {
	case m.busy || m.loading:
		return m.spinner.View() + " Working..."
	case m.errMsg != "" && m.state == StateCalendar:
		return dangerStyle.Render(m.errMsg)
	case m.message != "":
		return successStyle.Render(m.message)
	}
	return ""
}
