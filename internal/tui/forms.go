package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/milkrun/internal/models"
)

func slotForm(title string, slot *models.Slot) *huh.Form {
	return huh.NewForm(huh.NewGroup(
		huh.NewSelect[models.Slot]().
			Title(title).
			Options(
				huh.NewOption("Morning", models.SlotMorning),
				huh.NewOption("Evening", models.SlotEvening),
			).
			Value(slot),
	))
}

func dateForm(title string, mv *moveForm) *huh.Form {
	options := make([]huh.Option[string], 0, len(mv.Options))
	for _, a := range mv.Options {
		options = append(options, huh.NewOption(availableLabel(a), a.Date))
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(options...).
			Height(10).
			Value(&mv.To),
		huh.NewConfirm().
			Title("Reschedule?").
			Affirmative("Move").
			Negative("Cancel").
			Value(&mv.OK),
	))
}

// availableLabel renders "Mon 01 Jul" or, for a block, "Mon 01 Jul to Wed 03 Jul".
func availableLabel(a models.AvailableDate) string {
	label := shortDate(a.Date)
	if a.BlockEnd != "" && a.BlockEnd != a.Date {
		label = fmt.Sprintf("%s to %s", label, shortDate(a.BlockEnd))
	}
	return label
}

func shortDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Mon 02 Jan")
}
